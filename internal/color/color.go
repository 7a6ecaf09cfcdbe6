// Package color converts host color and brightness values to the remote wire format.
package color

import (
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGB is an 8-bit per channel color
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Black is used when nothing else is known about an entity's color.
var Black = RGB{}

// HS is a hue/saturation pair. Hue is in degrees, saturation in percent (0..100).
type HS struct {
	Hue        float64 `json:"h"`
	Saturation float64 `json:"s"`
}

// HSToRGB converts hue/saturation to RGB at full value.
func HSToRGB(hs HS) RGB {
	h := math.Mod(hs.Hue, 360)
	if h < 0 {
		h += 360
	}
	s := clamp(hs.Saturation, 0, 100) / 100

	r, g, b := colorful.Hsv(h, s, 1).RGB255()
	return RGB{R: r, G: g, B: b}
}

// BrightnessToWire scales host brightness 0..255 to wire brightness 0..100, rounding half up.
func BrightnessToWire(b uint8) int {
	return (int(b)*100 + 127) / 255
}

// BrightnessFromWire scales wire brightness 0..100 to host brightness 0..255, rounding half up.
// Out of range input is clamped.
func BrightnessFromWire(p int) uint8 {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return uint8((p*255 + 50) / 100)
}

// BrightnessPolicy decides which wire brightness is sent for a host brightness.
type BrightnessPolicy interface {
	Wire(host uint8) int
	Name() string
}

// Scaled sends the host brightness rescaled to 0..100.
type Scaled struct{}

func (Scaled) Wire(host uint8) int { return BrightnessToWire(host) }
func (Scaled) Name() string        { return "scaled" }

// Fixed always sends the same wire brightness regardless of what the host asked for.
type Fixed struct {
	Value int
}

func (f Fixed) Wire(uint8) int { return f.Value }
func (f Fixed) Name() string   { return "fixed" }

// ParsePolicy builds a policy from its configured name
func ParsePolicy(name string, fixed int) (BrightnessPolicy, error) {
	switch name {
	case "", "scaled":
		return Scaled{}, nil
	case "fixed":
		if fixed < 0 || fixed > 100 {
			return nil, fmt.Errorf("fixed brightness out of range: %d", fixed)
		}
		return Fixed{Value: fixed}, nil
	default:
		return nil, fmt.Errorf("unknown brightness policy %q", name)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
