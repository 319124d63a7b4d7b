package projector

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/projectorctl/internal/session"
)

// Action is what a control request asks for.
type Action string

// Control actions.
const (
	ActionUp     Action = "up"
	ActionDown   Action = "down"
	ActionStatus Action = "status"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionUp, ActionDown, ActionStatus:
		return a, nil
	default:
		return "", fmt.Errorf("%w: action %q", ErrUnsupported, s)
	}
}

// defaultPowerControl is used when a profile does not name one.
const defaultPowerControl = "power"

// Profile is the compiled command table of one projector family.
type Profile struct {
	Name string

	// PowerControl names the control whose status query is the power
	// check for controls with RequiresPower.
	PowerControl string

	Controls map[string]Control
}

// Control is a named projector function such as "volume".
// Up, Down and Status are nil when the profile does not define them.
type Control struct {
	Name          string
	RequiresPower bool
	Up            *session.Command
	Down          *session.Command
	Status        *Query
}

// Query is a status read: the command to send and how to decode the reply.
type Query struct {
	Command session.Command
	Decoder Decoder
}

// ControlNames returns the profile's control names, sorted.
func (p *Profile) ControlNames() []string {
	names := make([]string, 0, len(p.Controls))
	for name := range p.Controls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// profileFile is the on-disk shape of the profiles YAML.
type profileFile struct {
	Profiles map[string]profileYAML `yaml:"profiles"`
}

type profileYAML struct {
	PowerControl string                 `yaml:"power_control"`
	Controls     map[string]controlYAML `yaml:"controls"`
}

type controlYAML struct {
	RequiresPower bool        `yaml:"requires_power"`
	Up            string      `yaml:"up"`
	Down          string      `yaml:"down"`
	Status        *statusYAML `yaml:"status"`
}

type statusYAML struct {
	Frame  string `yaml:"frame"`
	Decode string `yaml:"decode"`
	Offset int    `yaml:"offset"`
	Equals int    `yaml:"equals"`
}

// ParseProfiles compiles a profiles YAML document. Frames are hex strings
// holding the opcode byte followed by the payload; whitespace is ignored
// and checksums are added by the device class codec.
//
// Returns:
//   - map[string]*Profile: profiles keyed by name
//   - error: ErrInvalidProfile listing every problem found, or a YAML error
func ParseProfiles(data []byte) (map[string]*Profile, error) {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}

	var errs []string
	profiles := make(map[string]*Profile, len(file.Profiles))
	for name, src := range file.Profiles {
		p, perrs := compileProfile(name, src)
		errs = append(errs, perrs...)
		profiles[name] = p
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(errs, "; "))
	}
	return profiles, nil
}

func compileProfile(name string, src profileYAML) (*Profile, []string) {
	var errs []string
	p := &Profile{
		Name:         name,
		PowerControl: src.PowerControl,
		Controls:     make(map[string]Control, len(src.Controls)),
	}
	if p.PowerControl == "" {
		p.PowerControl = defaultPowerControl
	}
	if len(src.Controls) == 0 {
		errs = append(errs, fmt.Sprintf("profiles.%s.controls must have at least one entry", name))
	}

	needsPower := false
	for cname, cs := range src.Controls {
		prefix := fmt.Sprintf("profiles.%s.controls.%s", name, cname)
		ctl := Control{Name: cname, RequiresPower: cs.RequiresPower}
		needsPower = needsPower || cs.RequiresPower

		if cs.Up != "" {
			cmd, err := parseFrame(cs.Up)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s.up: %v", prefix, err))
			}
			ctl.Up = cmd
		}
		if cs.Down != "" {
			cmd, err := parseFrame(cs.Down)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s.down: %v", prefix, err))
			}
			ctl.Down = cmd
		}
		if cs.Status != nil {
			q, err := compileQuery(*cs.Status)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s.status: %v", prefix, err))
			}
			ctl.Status = q
		}
		if ctl.Up == nil && ctl.Down == nil && ctl.Status == nil {
			errs = append(errs, prefix+" defines no action")
		}
		p.Controls[cname] = ctl
	}

	if needsPower {
		pc, ok := p.Controls[p.PowerControl]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("profiles.%s.power_control %q is not a control", name, p.PowerControl))
		case pc.Status == nil:
			errs = append(errs, fmt.Sprintf("profiles.%s.power_control %q has no status query", name, p.PowerControl))
		case pc.Status.Decoder.Kind != DecodeState && pc.Status.Decoder.Kind != DecodeStateEq:
			errs = append(errs, fmt.Sprintf("profiles.%s.power_control %q must decode a state", name, p.PowerControl))
		}
	}
	return p, errs
}

func compileQuery(src statusYAML) (*Query, error) {
	cmd, err := parseFrame(src.Frame)
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder(src.Decode, src.Offset, src.Equals)
	if err != nil {
		return nil, err
	}
	return &Query{Command: *cmd, Decoder: dec}, nil
}

// parseFrame turns "06 14 00 04" into opcode 0x06 and payload 14 00 04.
func parseFrame(s string) (*session.Command, error) {
	compact := strings.Join(strings.Fields(s), "")
	if compact == "" {
		return nil, fmt.Errorf("empty frame")
	}
	b, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("frame %q: %w", s, err)
	}
	return &session.Command{Opcode: b[0], Payload: b[1:]}, nil
}
