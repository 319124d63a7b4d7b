package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for projectorctld.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Daemon    DaemonConfig        `yaml:"daemon"`
	Database  DatabaseConfig      `yaml:"database"`
	API       APIConfig           `yaml:"api"`
	WebSocket WebSocketConfig     `yaml:"websocket"`
	Security  SecurityConfig      `yaml:"security"`
	MQTT      MQTTConfig          `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig      `yaml:"influxdb"`
	Logging   LoggingConfig       `yaml:"logging"`
	Discovery DiscoveryConfig     `yaml:"discovery"`
	Sessions  SessionsConfig      `yaml:"sessions"`
	Classes   []DeviceClassConfig `yaml:"classes"`
	Profiles  ProfilesConfig      `yaml:"profiles"`
}

// DaemonConfig contains process-level settings.
type DaemonConfig struct {
	// ID identifies this daemon instance in MQTT topics and telemetry tags.
	ID string `yaml:"id"`

	// ShutdownGrace bounds how long in-flight commands may drain on shutdown
	// before transports are force-closed.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains API authentication and throttling settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Clients   []ClientConfig  `yaml:"clients"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables authentication entirely.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// ClientConfig describes an API client allowed to request tokens.
type ClientConfig struct {
	ID string `yaml:"id"`

	// KeyHash is an Argon2id PHC string of the client key.
	KeyHash string `yaml:"key_hash"`

	// Role is one of viewer, operator or admin.
	Role string `yaml:"role"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiscoveryConfig selects which hardware discovery sources run.
type DiscoveryConfig struct {
	Udev   UdevConfig     `yaml:"udev"`
	Serial SerialConfig   `yaml:"serial"`
	MDNS   MDNSConfig     `yaml:"mdns"`
	Static []StaticDevice `yaml:"static"`
}

// UdevConfig controls the supervised udevadm monitor.
type UdevConfig struct {
	Enabled bool `yaml:"enabled"`

	// Binary is the path to the udevadm executable.
	// Default: "/usr/bin/udevadm"
	Binary string `yaml:"binary"`

	// Subsystem filters events to one kernel subsystem.
	// Default: "tty"
	Subsystem string `yaml:"subsystem"`

	// RestartDelay is the wait before restarting a crashed monitor.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestarts limits restart attempts. 0 means unlimited.
	MaxRestarts int `yaml:"max_restarts"`
}

// SerialConfig controls serial port enumeration.
type SerialConfig struct {
	// Enabled runs an initial port enumeration at startup.
	Enabled bool `yaml:"enabled"`

	// WatchDev re-enumerates ports whenever DevDir changes. Use it when
	// udevadm is not available.
	WatchDev bool `yaml:"watch_dev"`

	// DevDir is the directory watched for tty nodes.
	// Default: "/dev"
	DevDir string `yaml:"dev_dir"`
}

// MDNSConfig controls DNS-SD browsing for networked projectors.
type MDNSConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Services   []string `yaml:"services"`
	Domain     string   `yaml:"domain"`
	Interfaces []string `yaml:"interfaces"`
}

// StaticDevice is a network projector that is always considered present.
type StaticDevice struct {
	ID      string `yaml:"id"`
	Class   string `yaml:"class"`
	Address string `yaml:"address"`
}

// SessionsConfig contains per-device session settings.
type SessionsConfig struct {
	// BackoffMin is the first reconnect wait after a transport failure.
	BackoffMin time.Duration `yaml:"backoff_min"`

	// BackoffMax caps the reconnect wait.
	BackoffMax time.Duration `yaml:"backoff_max"`

	// ConnectTimeout bounds a single open attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// CommandTimeout is the default response deadline. Device classes may override it.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// QueueDepth is the number of commands that may wait behind the in-flight one.
	QueueDepth int `yaml:"queue_depth"`
}

// DeviceClassConfig describes a family of projectors: how to recognise one,
// how to reach it, and how its frames look on the wire.
type DeviceClassConfig struct {
	Name           string        `yaml:"name"`
	Match          MatchConfig   `yaml:"match"`
	Serial         SerialLine    `yaml:"serial"`
	TCPPort        int           `yaml:"tcp_port"`
	Framing        FramingConfig `yaml:"framing"`
	Codec          CodecConfig   `yaml:"codec"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Profile        string        `yaml:"profile"`
}

// MatchConfig is the hardware signature of a device class.
// Empty fields are wildcards; at least one field must be set.
type MatchConfig struct {
	USBVendorID  string `yaml:"usb_vendor_id"`
	USBProductID string `yaml:"usb_product_id"`
	MDNSService  string `yaml:"mdns_service"`
	Static       bool   `yaml:"static"`
}

// SerialLine contains line settings for serial endpoints.
type SerialLine struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`
}

// FramingConfig selects how a byte stream is split into frames.
type FramingConfig struct {
	// Type is "length" or "delimiter".
	Type string `yaml:"type"`

	HeaderSize   int  `yaml:"header_size"`
	LengthOffset int  `yaml:"length_offset"`
	LengthSize   int  `yaml:"length_size"`
	BigEndian    bool `yaml:"big_endian"`

	// Adjust is added to the decoded length field to get the byte count
	// that follows the header.
	Adjust int `yaml:"adjust"`

	// Delimiter terminates frames for the delimiter type. Only the first
	// byte is used; write it as a double-quoted YAML escape such as "\r".
	Delimiter string `yaml:"delimiter"`

	MaxFrame int `yaml:"max_frame"`
}

// CodecConfig selects how commands and replies map to frames.
type CodecConfig struct {
	// Type is "raw", "tagged" or "line".
	Type string `yaml:"type"`

	// Checksum is "" or "sum8" (raw codec only).
	Checksum string `yaml:"checksum"`

	// ChecksumFrom is the first byte index covered by the checksum.
	ChecksumFrom int `yaml:"checksum_from"`

	// ErrorPrefix marks error replies (line codec only).
	ErrorPrefix string `yaml:"error_prefix"`
}

// ProfilesConfig points at the projector control profile file.
type ProfilesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PROJECTORCTL_SECTION_KEY
// For example: PROJECTORCTL_DATABASE_PATH, PROJECTORCTL_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyClassDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			ID:            "projectorctl",
			ShutdownGrace: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/projectorctl.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 43880,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 300,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "projectorctl",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Discovery: DiscoveryConfig{
			Udev: UdevConfig{
				Binary:       "/usr/bin/udevadm",
				Subsystem:    "tty",
				RestartDelay: 2 * time.Second,
			},
			Serial: SerialConfig{
				Enabled: true,
				DevDir:  "/dev",
			},
			MDNS: MDNSConfig{
				Domain: "local.",
			},
		},
		Sessions: SessionsConfig{
			BackoffMin:     500 * time.Millisecond,
			BackoffMax:     30 * time.Second,
			ConnectTimeout: 5 * time.Second,
			CommandTimeout: 2 * time.Second,
			QueueDepth:     16,
		},
		Profiles: ProfilesConfig{
			Path: "configs/profiles.yaml",
		},
	}
}

// applyClassDefaults fills unset per-class fields from session defaults.
// Serial line defaults are 115200 8N1.
func (c *Config) applyClassDefaults() {
	for i := range c.Classes {
		cl := &c.Classes[i]
		if cl.Serial.BaudRate == 0 {
			cl.Serial.BaudRate = 115200
		}
		if cl.Serial.DataBits == 0 {
			cl.Serial.DataBits = 8
		}
		if cl.Serial.StopBits == 0 {
			cl.Serial.StopBits = 1
		}
		if cl.Serial.Parity == "" {
			cl.Serial.Parity = "none"
		}
		if cl.CommandTimeout == 0 {
			cl.CommandTimeout = c.Sessions.CommandTimeout
		}
		if cl.Framing.MaxFrame == 0 {
			cl.Framing.MaxFrame = 4096
		}
		if cl.Codec.Type == "" {
			cl.Codec.Type = "raw"
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PROJECTORCTL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PROJECTORCTL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PROJECTORCTL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PROJECTORCTL_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("PROJECTORCTL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PROJECTORCTL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PROJECTORCTL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("PROJECTORCTL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PROJECTORCTL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	if v := os.Getenv("PROJECTORCTL_PROFILES_PATH"); v != "" {
		cfg.Profiles.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Tokens signed with a short secret are trivially forgeable.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	for i, cl := range c.Security.Clients {
		if cl.ID == "" || cl.KeyHash == "" {
			errs = append(errs, fmt.Sprintf("security.clients[%d] needs id and key_hash", i))
		}
	}

	if c.Sessions.BackoffMin <= 0 {
		errs = append(errs, "sessions.backoff_min must be positive")
	}
	if c.Sessions.BackoffMax < c.Sessions.BackoffMin {
		errs = append(errs, "sessions.backoff_max must not be less than sessions.backoff_min")
	}
	if c.Sessions.CommandTimeout <= 0 {
		errs = append(errs, "sessions.command_timeout must be positive")
	}
	if c.Sessions.QueueDepth < 1 {
		errs = append(errs, "sessions.queue_depth must be at least 1")
	}

	names := make(map[string]bool, len(c.Classes))
	for i, cl := range c.Classes {
		errs = append(errs, cl.validate(i, names)...)
	}

	for i, d := range c.Discovery.Static {
		if d.ID == "" || d.Address == "" {
			errs = append(errs, fmt.Sprintf("discovery.static[%d] needs id and address", i))
		}
		if !names[d.Class] {
			errs = append(errs, fmt.Sprintf("discovery.static[%d] references unknown class %q", i, d.Class))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (cl DeviceClassConfig) validate(i int, names map[string]bool) []string {
	var errs []string
	prefix := fmt.Sprintf("classes[%d]", i)

	if cl.Name == "" {
		errs = append(errs, prefix+".name is required")
	} else if names[cl.Name] {
		errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, cl.Name))
	}
	names[cl.Name] = true

	m := cl.Match
	if m.USBVendorID == "" && m.USBProductID == "" && m.MDNSService == "" && !m.Static {
		errs = append(errs, prefix+".match needs at least one field")
	}

	switch cl.Framing.Type {
	case "length":
		if cl.Framing.LengthSize != 1 && cl.Framing.LengthSize != 2 && cl.Framing.LengthSize != 4 {
			errs = append(errs, prefix+".framing.length_size must be 1, 2 or 4")
		}
		if cl.Framing.LengthOffset+cl.Framing.LengthSize > cl.Framing.HeaderSize {
			errs = append(errs, prefix+".framing length field must lie inside the header")
		}
	case "delimiter":
		if cl.Framing.Delimiter == "" {
			errs = append(errs, prefix+".framing.delimiter is required")
		}
	default:
		errs = append(errs, prefix+".framing.type must be length or delimiter")
	}

	switch cl.Codec.Type {
	case "raw", "tagged", "line":
	default:
		errs = append(errs, prefix+".codec.type must be raw, tagged or line")
	}
	if cl.Codec.Checksum != "" && cl.Codec.Checksum != "sum8" {
		errs = append(errs, prefix+".codec.checksum must be empty or sum8")
	}

	switch strings.ToLower(cl.Serial.Parity) {
	case "none", "odd", "even":
	default:
		errs = append(errs, prefix+".serial.parity must be none, odd or even")
	}

	return errs
}

// Class returns the device class with the given name.
func (c *Config) Class(name string) (DeviceClassConfig, bool) {
	for _, cl := range c.Classes {
		if cl.Name == name {
			return cl, true
		}
	}
	return DeviceClassConfig{}, false
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
