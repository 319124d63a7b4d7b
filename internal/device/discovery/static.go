package discovery

import (
	"context"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/transport"
)

// StaticSource reports configured network projectors once at startup.
type StaticSource struct {
	devices []config.StaticDevice
}

// NewStaticSource creates a source for the configured static devices.
func NewStaticSource(devices []config.StaticDevice) *StaticSource {
	return &StaticSource{devices: devices}
}

// Name implements device.Source.
func (s *StaticSource) Name() string { return device.SourceStatic }

// Run implements device.Source.
func (s *StaticSource) Run(ctx context.Context, out chan<- device.Sighting) error {
	for _, d := range s.devices {
		sighting := device.Sighting{
			Key:      StaticKey(d.ID),
			Present:  true,
			Source:   device.SourceStatic,
			Endpoint: transport.Endpoint{Kind: transport.KindTCP, Address: d.Address},
			Class:    d.Class,
		}
		if !send(ctx, out, sighting) {
			return nil
		}
	}
	<-ctx.Done()
	return nil
}
