// projectorctld - projector control daemon
//
// projectorctld discovers projectors attached over USB serial or reachable
// on the network, keeps one supervised session per device, and exposes
// them through a REST and WebSocket API, with an optional MQTT mirror.
//
// Usage:
//
//	projectorctld             run the daemon (config from PROJECTORCTL_CONFIG)
//	projectorctld hash-key    read a client key on stdin, print its hash
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/projectorctl/migrations"

	"github.com/nerrad567/projectorctl/internal/api"
	"github.com/nerrad567/projectorctl/internal/audit"
	"github.com/nerrad567/projectorctl/internal/auth"
	"github.com/nerrad567/projectorctl/internal/bridges/mqttbridge"
	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/device/discovery"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/infrastructure/database"
	"github.com/nerrad567/projectorctl/internal/infrastructure/influxdb"
	"github.com/nerrad567/projectorctl/internal/infrastructure/logging"
	"github.com/nerrad567/projectorctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/projectorctl/internal/metrics"
	"github.com/nerrad567/projectorctl/internal/projector"
	"github.com/nerrad567/projectorctl/internal/session"
	"github.com/nerrad567/projectorctl/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		if err := hashKey(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon, separated from main for testability.
//
// Startup order is storage, then the session side (manager, observers,
// background sinks), then discovery, then the API. Shutdown runs the
// reverse: the API stops taking requests, discovery stops, sessions drain
// for up to daemon.shutdown_grace, and the sinks flush last.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting projectorctld",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"daemon_id", cfg.Daemon.ID,
		"classes", len(cfg.Classes),
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Session side.
	manager := session.NewManager(session.OptionsFromConfig(cfg.Sessions), cfg.Classes, transport.Dialer{})
	manager.SetLogger(log.Component("session"))

	catalog, err := loadCatalog(cfg.Profiles)
	if err != nil {
		return fmt.Errorf("loading projector profiles: %w", err)
	}
	catalog.SetLogger(log.Component("profiles"))
	controller := projector.NewController(catalog, manager, cfg.Classes)
	controller.SetLogger(log.Component("projector"))
	log.Info("projector profiles loaded", "path", cfg.Profiles.Path, "profiles", catalog.Names())

	commandLog := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(commandLog, 0)
	recorder.SetLogger(log.Component("command-log"))

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(promRegistry)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))

	observers := session.Observers{recorder, collector, hub}
	deviceSinks := []deviceSink{collector, hub}
	checks := map[string]api.HealthChecker{"database": db, "sessions": manager}

	// Device registry. Created before the MQTT bridge, which resolves IDs
	// through it.
	registry := device.NewRegistry(
		device.NewClassifier(cfg.Classes),
		device.NewSQLiteRepository(db.DB),
		buildSources(cfg.Discovery, log)...,
	)
	registry.SetLogger(log.Component("registry"))
	checks["registry"] = registry

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(ctx, cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, err = mqttbridge.New(mqttbridge.Options{
			Client:   mqttClient,
			Devices:  registry,
			Controls: controller,
			QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated 0..2
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		bridge.SetLogger(log.Component("mqttbridge"))
		observers = append(observers, bridge)
		deviceSinks = append(deviceSinks, bridge)
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		observers = append(observers, influxClient)
		deviceSinks = append(deviceSinks, influxClient)
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	manager.SetObserver(observers)

	// Sinks outlive the signal context so they can flush what the
	// session drain produces.
	sinkCtx, stopSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSinks()
	g, gctx := errgroup.WithContext(sinkCtx)

	g.Go(func() error { return recorder.Run(gctx) })
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	if cfg.Profiles.Watch {
		g.Go(func() error { return catalog.Watch(gctx) })
	}

	sessionEvents := make(chan device.Event, 64) //nolint:mnd // absorbs arrival bursts at startup
	g.Go(func() error {
		defer close(sessionEvents)
		return teeEvents(gctx, registry.Events(), sessionEvents, deviceSinks)
	})
	g.Go(func() error { return manager.Run(gctx, sessionEvents) })

	if startErr := registry.Start(sinkCtx); startErr != nil {
		stopSinks()
		_ = g.Wait() //nolint:errcheck // startup already failed
		return fmt.Errorf("starting device registry: %w", startErr)
	}

	authn, err := auth.NewAuthenticator(cfg.Security)
	if err != nil {
		registry.Stop()
		stopSinks()
		_ = g.Wait() //nolint:errcheck // startup already failed
		return fmt.Errorf("configuring authentication: %w", err)
	}
	if !authn.Enabled() {
		log.Warn("API authentication disabled: security.jwt.secret is empty")
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Registry:   registry,
		Sessions:   manager,
		Controls:   controller,
		CommandLog: commandLog,
		Auth:       authn,
		Metrics:    promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Checks:     checks,
		DB:         db.DB,
		Hub:        hub,
		Version:    version,
	})
	if err == nil {
		err = server.Start(sinkCtx)
	}
	if err != nil {
		registry.Stop()
		stopSinks()
		_ = g.Wait() //nolint:errcheck // startup already failed
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-gctx.Done():
		log.Error("background component failed, shutting down")
	}

	shutdown(ctx, cfg.Daemon, log, server, registry, manager)

	stopSinks()
	waitErr := g.Wait()
	log.Info("projectorctld stopped", "dropped_log_entries", recorder.Dropped())
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}

// shutdown stops intake, then lets sessions drain within the grace period.
func shutdown(ctx context.Context, daemon config.DaemonConfig, log *logging.Logger,
	server *api.Server, registry *device.Registry, manager *session.Manager) {
	if err := server.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}

	log.Info("stopping discovery")
	registry.Stop()

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), daemon.ShutdownGrace)
	defer cancel()
	if err := manager.Shutdown(graceCtx); err != nil {
		log.Warn("sessions force-closed", "grace", daemon.ShutdownGrace.String(), "error", err)
	}
}

// deviceSink receives registry events alongside the session manager.
type deviceSink interface {
	DeviceEvent(ev device.Event)
}

// teeEvents forwards registry events to the sinks and then to the session
// manager, until the registry closes its stream or ctx ends.
func teeEvents(ctx context.Context, in <-chan device.Event, out chan<- device.Event, sinks []deviceSink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			for _, s := range sinks {
				s.DeviceEvent(ev)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// buildSources creates the enabled discovery sources.
func buildSources(cfg config.DiscoveryConfig, log *logging.Logger) []device.Source {
	var sources []device.Source
	if cfg.Udev.Enabled {
		src := discovery.NewUdevSource(cfg.Udev)
		src.SetLogger(log.Component("udev"))
		sources = append(sources, src)
	}
	if cfg.Serial.Enabled || cfg.Serial.WatchDev {
		src := discovery.NewSerialScanSource(cfg.Serial)
		src.SetLogger(log.Component("serial-scan"))
		sources = append(sources, src)
	}
	if cfg.MDNS.Enabled {
		src := discovery.NewMDNSSource(cfg.MDNS)
		src.SetLogger(log.Component("mdns"))
		sources = append(sources, src)
	}
	if len(cfg.Static) > 0 {
		sources = append(sources, discovery.NewStaticSource(cfg.Static))
	}
	return sources
}

// loadCatalog loads the profile file, or returns an empty catalog when no
// path is configured.
func loadCatalog(cfg config.ProfilesConfig) (*projector.Catalog, error) {
	if cfg.Path == "" {
		return projector.NewCatalog(map[string]*projector.Profile{}), nil
	}
	return projector.LoadCatalog(cfg.Path)
}

// getConfigPath returns the configuration file path.
// Uses PROJECTORCTL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PROJECTORCTL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// hashKey reads one client key line from r and writes its Argon2id PHC
// hash to w, for security.clients[].key_hash.
func hashKey(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading key: %w", err)
	}
	key := strings.TrimRight(line, "\r\n")
	if key == "" {
		return errors.New("key must not be empty")
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		return fmt.Errorf("hashing key: %w", err)
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
