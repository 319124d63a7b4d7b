package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/transport"
)

type browseFunc func(ctx context.Context, service, domain string,
	entries, removed chan<- *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// MDNSSource browses DNS-SD service types for networked projectors.
// Each resolved instance becomes a TCP endpoint at its first address.
type MDNSSource struct {
	cfg    config.MDNSConfig
	logger Logger
	browse browseFunc
}

// NewMDNSSource creates an mDNS browsing source.
func NewMDNSSource(cfg config.MDNSConfig) *MDNSSource {
	return &MDNSSource{
		cfg:    cfg,
		logger: noopLogger{},
		browse: zeroconf.Browse,
	}
}

// SetLogger sets the logger for the source.
func (s *MDNSSource) SetLogger(logger Logger) {
	s.logger = logger
}

// Name implements device.Source.
func (s *MDNSSource) Name() string { return device.SourceMDNS }

// Run implements device.Source. One browser runs per configured service.
func (s *MDNSSource) Run(ctx context.Context, out chan<- device.Sighting) error {
	opts := s.browserOptions()

	var wg sync.WaitGroup
	for _, service := range s.cfg.Services {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			s.browseService(ctx, service, opts, out)
		}(service)
	}
	wg.Wait()
	return nil
}

func (s *MDNSSource) browseService(ctx context.Context, service string, opts []zeroconf.ClientOption, out chan<- device.Sighting) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		if err := s.browse(ctx, service, s.cfg.Domain, entries, removed, opts...); err != nil && ctx.Err() == nil {
			s.logger.Warn("mdns browse failed", "service", service, "error", err)
		}
	}()

	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			sighting, ok := entrySighting(service, entry)
			if !ok || seen[sighting.Key] {
				continue
			}
			seen[sighting.Key] = true
			s.logger.Debug("mdns instance resolved", "service", service, "instance", entry.Instance)
			if !send(ctx, out, sighting) {
				return
			}
		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if entry == nil {
				continue
			}
			key := MDNSKey(entry.Instance)
			if !seen[key] {
				continue
			}
			delete(seen, key)
			if !send(ctx, out, device.Sighting{Key: key, Source: device.SourceMDNS}) {
				return
			}
		}
	}
}

func (s *MDNSSource) browserOptions() []zeroconf.ClientOption {
	var ifaces []net.Interface
	for _, name := range s.cfg.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			s.logger.Warn("mdns interface not found", "interface", name, "error", err)
			continue
		}
		ifaces = append(ifaces, *iface)
	}
	if len(ifaces) == 0 {
		return nil
	}
	return []zeroconf.ClientOption{zeroconf.SelectIfaces(ifaces)}
}

func entrySighting(service string, entry *zeroconf.ServiceEntry) (device.Sighting, bool) {
	if entry == nil || entry.Instance == "" || entry.Port == 0 {
		return device.Sighting{}, false
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return device.Sighting{}, false
	}

	return device.Sighting{
		Key:     MDNSKey(entry.Instance),
		Present: true,
		Source:  device.SourceMDNS,
		Endpoint: transport.Endpoint{
			Kind:    transport.KindTCP,
			Address: net.JoinHostPort(host, strconv.Itoa(entry.Port)),
		},
		Signature: device.Signature{Service: service, Instance: entry.Instance},
	}, true
}
