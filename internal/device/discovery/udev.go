package discovery

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/process"
	"github.com/nerrad567/projectorctl/internal/transport"
)

// Logger is the logging interface shared by the discovery sources.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// UdevSource streams tty hotplug events from a supervised
// "udevadm monitor --udev --property" process.
type UdevSource struct {
	cfg    config.UdevConfig
	logger Logger
}

// NewUdevSource creates a udev source.
func NewUdevSource(cfg config.UdevConfig) *UdevSource {
	return &UdevSource{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the source and its supervised process.
func (s *UdevSource) SetLogger(logger Logger) {
	s.logger = logger
}

// Name implements device.Source.
func (s *UdevSource) Name() string { return device.SourceUdev }

// Run implements device.Source. It returns when ctx is cancelled or when
// the monitor process can no longer be restarted.
func (s *UdevSource) Run(ctx context.Context, out chan<- device.Sighting) error {
	args := []string{"monitor", "--udev", "--property"}
	if s.cfg.Subsystem != "" {
		args = append(args, "--subsystem-match="+s.cfg.Subsystem)
	}

	pcfg := process.DefaultConfig("udevadm", s.cfg.Binary, args)
	if s.cfg.RestartDelay > 0 {
		pcfg.RestartDelay = s.cfg.RestartDelay
	}
	pcfg.MaxRestartAttempts = s.cfg.MaxRestarts

	// Each monitor run starts with an empty node table; the registry
	// drops removals for keys it does not hold.
	pcfg.Stdout = func(r io.Reader) {
		p := newUdevParser()
		ReadUdevBlocks(r, func(props map[string]string) bool {
			sighting, ok := p.sighting(props)
			if !ok {
				return true
			}
			select {
			case out <- sighting:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}

	mgr := process.NewManager(pcfg)
	mgr.SetLogger(s.logger)
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-mgr.Done():
		return mgr.LastError()
	}
	return mgr.Stop()
}

// ReadUdevBlocks splits udevadm --property output into KEY=VALUE blocks
// separated by blank lines and calls fn for each. Banner and event header
// lines are skipped. Reading stops early when fn returns false.
func ReadUdevBlocks(r io.Reader, fn func(props map[string]string) bool) {
	sc := bufio.NewScanner(r)
	props := make(map[string]string)

	flush := func() bool {
		if len(props) == 0 {
			return true
		}
		cont := fn(props)
		props = make(map[string]string)
		return cont
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			if !flush() {
				return
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		props[key] = value
	}
	flush()
}

// udevParser maps property blocks to sightings. Remove events do not
// always carry the ID_* properties, so the key assigned on add is
// remembered per device node.
type udevParser struct {
	keys map[string]string
}

func newUdevParser() *udevParser {
	return &udevParser{keys: make(map[string]string)}
}

func (p *udevParser) sighting(props map[string]string) (device.Sighting, bool) {
	devnode := props["DEVNAME"]
	if devnode == "" {
		return device.Sighting{}, false
	}

	switch props["ACTION"] {
	case "add":
		sig := device.Signature{
			VendorID:     strings.ToLower(props["ID_VENDOR_ID"]),
			ProductID:    strings.ToLower(props["ID_MODEL_ID"]),
			SerialNumber: props["ID_SERIAL_SHORT"],
			Product:      props["ID_MODEL"],
		}
		key := SerialKey(sig.VendorID, sig.ProductID, sig.SerialNumber, devnode)
		p.keys[devnode] = key
		return device.Sighting{
			Key:       key,
			Present:   true,
			Source:    device.SourceUdev,
			Endpoint:  transport.Endpoint{Kind: transport.KindSerial, Address: devnode},
			Signature: sig,
		}, true

	case "remove":
		key, ok := p.keys[devnode]
		if ok {
			delete(p.keys, devnode)
		} else {
			key = SerialKey(props["ID_VENDOR_ID"], props["ID_MODEL_ID"], props["ID_SERIAL_SHORT"], devnode)
		}
		return device.Sighting{Key: key, Source: device.SourceUdev}, true

	default:
		return device.Sighting{}, false
	}
}
