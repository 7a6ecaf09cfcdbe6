package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/carlmjohnson/versioninfo"

	"github.com/dokzlo13/worldmapd/internal/color"
	"github.com/dokzlo13/worldmapd/internal/dispatch"
	"github.com/dokzlo13/worldmapd/internal/mirror"
)

// LightConfig is a JSON-schema light discovery message
type LightConfig struct {
	Device              Device   `json:"device"`
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	Platform            string   `json:"platform"`
	Schema              string   `json:"schema"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic"`
	AvailabilityTopic   string   `json:"availability_topic"`
	Brightness          bool     `json:"brightness"`
	BrightnessScale     int      `json:"brightness_scale"`
	SupportedColorModes []string `json:"supported_color_modes"`
}

// Device groups the discovered lights of one bridge
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
}

// NewLightConfig builds the discovery message for a mirrored entity
func NewLightConfig(t Topics, m mirror.Mirror) LightConfig {
	name := m.Entity.Name
	if name == "" {
		name = fmt.Sprintf("Entity %d", m.Entity.ID)
	}
	return LightConfig{
		Device: Device{
			Identifiers:  []string{t.Node()},
			Manufacturer: "worldmapd",
			Model:        "World map LED strip",
			Name:         "World map",
			Version:      versioninfo.Short(),
		},
		Name:                name,
		UniqueID:            t.UniqueID(m.Entity.ID),
		Platform:            "mqtt",
		Schema:              "json",
		StateTopic:          t.LightState(m.Entity.ID),
		CommandTopic:        t.LightCommand(m.Entity.ID),
		AvailabilityTopic:   t.BridgeState(),
		Brightness:          true,
		BrightnessScale:     255,
		SupportedColorModes: []string{"rgb"},
	}
}

// ColorPayload carries rgb or hs components
type ColorPayload struct {
	R *uint8   `json:"r,omitempty"`
	G *uint8   `json:"g,omitempty"`
	B *uint8   `json:"b,omitempty"`
	H *float64 `json:"h,omitempty"`
	S *float64 `json:"s,omitempty"`
}

// StatePayload is published retained on the light state topic
type StatePayload struct {
	State      string       `json:"state"`
	Brightness uint8        `json:"brightness"`
	ColorMode  string       `json:"color_mode"`
	Color      ColorPayload `json:"color"`
}

// NewStatePayload renders a mirror on the host brightness scale
func NewStatePayload(m mirror.Mirror) StatePayload {
	state := PayloadOff
	if m.State.IsOn {
		state = PayloadOn
	}
	rgb := m.State.RGB
	return StatePayload{
		State:      state,
		Brightness: m.State.Brightness,
		ColorMode:  "rgb",
		Color:      ColorPayload{R: &rgb.R, G: &rgb.G, B: &rgb.B},
	}
}

// CommandPayload is what arrives on a light command topic
type CommandPayload struct {
	State      string        `json:"state"`
	Brightness *int          `json:"brightness,omitempty"`
	Color      *ColorPayload `json:"color,omitempty"`
}

// LightCommand is an inbound command for one entity
type LightCommand struct {
	Entity int
	On     bool
	Intent dispatch.Intent
}

// ParseCommand decodes a JSON-schema light command
func ParseCommand(id int, payload []byte) (LightCommand, error) {
	var p CommandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return LightCommand{}, fmt.Errorf("failed to parse light command: %w", err)
	}

	cmd := LightCommand{Entity: id}
	switch p.State {
	case PayloadOn:
		cmd.On = true
	case PayloadOff:
		return cmd, nil
	default:
		return LightCommand{}, fmt.Errorf("invalid light state %q", p.State)
	}

	if p.Brightness != nil {
		if *p.Brightness < 0 || *p.Brightness > 255 {
			return LightCommand{}, fmt.Errorf("brightness %d out of range", *p.Brightness)
		}
		b := uint8(*p.Brightness)
		cmd.Intent.Brightness = &b
	}

	if c := p.Color; c != nil {
		switch {
		case c.H != nil && c.S != nil:
			cmd.Intent.HS = &color.HS{Hue: *c.H, Saturation: *c.S}
		case c.R != nil && c.G != nil && c.B != nil:
			cmd.Intent.RGB = &color.RGB{R: *c.R, G: *c.G, B: *c.B}
		default:
			return LightCommand{}, fmt.Errorf("incomplete color in light command")
		}
	}

	return cmd, nil
}
