package projector

import (
	"context"
	"fmt"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
	"github.com/nerrad567/projectorctl/internal/session"
)

// Submitter sends one command to a device and waits for its response.
// *session.Manager implements it.
type Submitter interface {
	Submit(ctx context.Context, deviceID string, cmd session.Command) (session.Response, error)
}

// Reading is the decoded value of a control's status.
type Reading struct {
	Control string `json:"control"`

	// Value is a bool for state controls and a number otherwise.
	Value any `json:"value"`
}

// Controller translates named control operations into raw commands using
// the profile attached to each device's class.
//
// Thread Safety:
//   - Safe for concurrent use. Ordering between calls for the same device
//     is whatever the session queue gives.
type Controller struct {
	catalog   *Catalog
	submitter Submitter
	profiles  map[string]string
	logger    Logger
}

// NewController builds a controller. classes supplies the class to
// profile mapping.
func NewController(catalog *Catalog, submitter Submitter, classes []config.DeviceClassConfig) *Controller {
	byClass := make(map[string]string, len(classes))
	for _, cl := range classes {
		if cl.Profile != "" {
			byClass[cl.Name] = cl.Profile
		}
	}
	return &Controller{
		catalog:   catalog,
		submitter: submitter,
		profiles:  byClass,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// ProfileFor returns the profile attached to dev's class.
func (c *Controller) ProfileFor(dev device.Device) (*Profile, error) {
	name, ok := c.profiles[dev.Class]
	if !ok {
		return nil, fmt.Errorf("%w: class %q has no profile", ErrUnsupported, dev.Class)
	}
	p, ok := c.catalog.Profile(name)
	if !ok {
		return nil, fmt.Errorf("%w: profile %q not loaded", ErrUnsupported, name)
	}
	return p, nil
}

// Read queries a control's status.
//
// Controls flagged RequiresPower first query the profile's power control
// and fail with ErrPowerIsDown when the projector is off.
//
// Returns:
//   - Reading: the decoded value
//   - error: ErrUnsupported, ErrPowerIsDown, ErrRejected, ErrBadReply, or a
//     session error (ErrDeviceUnavailable, ErrTimeout, ErrIO)
func (c *Controller) Read(ctx context.Context, dev device.Device, control string) (Reading, error) {
	p, err := c.ProfileFor(dev)
	if err != nil {
		return Reading{}, err
	}
	ctl, ok := p.Controls[control]
	if !ok || ctl.Status == nil {
		return Reading{}, fmt.Errorf("%w: %s status", ErrUnsupported, control)
	}

	if ctl.RequiresPower && control != p.PowerControl {
		power, err := c.query(ctx, dev.ID, p.Controls[p.PowerControl].Status)
		if err != nil {
			return Reading{}, fmt.Errorf("checking power: %w", err)
		}
		if on, _ := power.(bool); !on {
			return Reading{}, fmt.Errorf("%w: cannot read %s", ErrPowerIsDown, control)
		}
	}

	v, err := c.query(ctx, dev.ID, ctl.Status)
	if err != nil {
		return Reading{}, err
	}
	c.logger.Debug("control read", "device_id", dev.ID, "control", control, "value", v)
	return Reading{Control: control, Value: v}, nil
}

// Write performs an up or down action. Status is not writable.
func (c *Controller) Write(ctx context.Context, dev device.Device, control string, action Action) error {
	if action == ActionStatus {
		return fmt.Errorf("%w: %s", ErrNotWritable, control)
	}
	p, err := c.ProfileFor(dev)
	if err != nil {
		return err
	}
	ctl, ok := p.Controls[control]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, control)
	}

	var cmd *session.Command
	switch action {
	case ActionUp:
		cmd = ctl.Up
	case ActionDown:
		cmd = ctl.Down
	}
	if cmd == nil {
		return fmt.Errorf("%w: %s %s", ErrUnsupported, control, action)
	}

	resp, err := c.submitter.Submit(ctx, dev.ID, *cmd)
	if err != nil {
		return err
	}
	if resp.Status != session.StatusOK {
		return fmt.Errorf("%w: %s %s", ErrRejected, control, action)
	}
	c.logger.Info("control written", "device_id", dev.ID, "control", control, "action", string(action))
	return nil
}

func (c *Controller) query(ctx context.Context, deviceID string, q *Query) (any, error) {
	resp, err := c.submitter.Submit(ctx, deviceID, q.Command)
	if err != nil {
		return nil, err
	}
	if resp.Status != session.StatusOK {
		return nil, ErrRejected
	}
	return q.Decoder.Decode(resp.Payload)
}
