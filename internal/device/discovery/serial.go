package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.bug.st/serial/enumerator"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/transport"
)

// rescanDelay coalesces bursts of /dev events into one enumeration.
const rescanDelay = 300 * time.Millisecond

// SerialScanSource enumerates serial ports at startup and, when WatchDev is
// set, re-enumerates whenever a tty node appears in or leaves DevDir.
// Differences between scans become arrival and removal sightings.
type SerialScanSource struct {
	cfg       config.SerialConfig
	logger    Logger
	listPorts func() ([]*enumerator.PortDetails, error)
}

// NewSerialScanSource creates a serial enumeration source.
func NewSerialScanSource(cfg config.SerialConfig) *SerialScanSource {
	return &SerialScanSource{
		cfg:       cfg,
		logger:    noopLogger{},
		listPorts: enumerator.GetDetailedPortsList,
	}
}

// SetLogger sets the logger for the source.
func (s *SerialScanSource) SetLogger(logger Logger) {
	s.logger = logger
}

// Name implements device.Source.
func (s *SerialScanSource) Name() string { return device.SourceSerial }

// Run implements device.Source.
func (s *SerialScanSource) Run(ctx context.Context, out chan<- device.Sighting) error {
	known := make(map[string]device.Sighting)
	if err := s.scan(ctx, known, out); err != nil {
		s.logger.Warn("serial enumeration failed", "error", err)
	}

	if !s.cfg.WatchDev {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating %s watcher: %w", s.cfg.DevDir, err)
	}
	defer watcher.Close() //nolint:errcheck // shutdown path

	if err := watcher.Add(s.cfg.DevDir); err != nil {
		return fmt.Errorf("watching %s: %w", s.cfg.DevDir, err)
	}
	s.logger.Info("watching for serial devices", "dir", s.cfg.DevDir)

	rescan := time.NewTimer(rescanDelay)
	rescan.Stop()
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isTTYEvent(ev) {
				continue
			}
			rescan.Reset(rescanDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("dev watcher error", "error", err)
		case <-rescan.C:
			if err := s.scan(ctx, known, out); err != nil {
				s.logger.Warn("serial enumeration failed", "error", err)
			}
		}
	}
}

func isTTYEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), "tty")
}

// scan enumerates ports and sends the difference against known.
func (s *SerialScanSource) scan(ctx context.Context, known map[string]device.Sighting, out chan<- device.Sighting) error {
	ports, err := s.listPorts()
	if err != nil {
		return err
	}

	current := make(map[string]device.Sighting, len(ports))
	for _, p := range ports {
		if p == nil || p.Name == "" {
			continue
		}
		sighting := portSighting(p)
		current[sighting.Key] = sighting
	}

	for key, sighting := range current {
		if _, ok := known[key]; ok {
			continue
		}
		if !send(ctx, out, sighting) {
			return ctx.Err()
		}
		known[key] = sighting
	}
	for key := range known {
		if _, ok := current[key]; ok {
			continue
		}
		if !send(ctx, out, device.Sighting{Key: key, Source: device.SourceSerial}) {
			return ctx.Err()
		}
		delete(known, key)
	}
	return nil
}

func portSighting(p *enumerator.PortDetails) device.Sighting {
	var sig device.Signature
	if p.IsUSB {
		sig = device.Signature{
			VendorID:     strings.ToLower(p.VID),
			ProductID:    strings.ToLower(p.PID),
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		}
	}
	return device.Sighting{
		Key:       SerialKey(sig.VendorID, sig.ProductID, sig.SerialNumber, p.Name),
		Present:   true,
		Source:    device.SourceSerial,
		Endpoint:  transport.Endpoint{Kind: transport.KindSerial, Address: p.Name},
		Signature: sig,
	}
}

func send(ctx context.Context, out chan<- device.Sighting, s device.Sighting) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
