package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHSToRGB(t *testing.T) {
	tests := []struct {
		name string
		hs   HS
		want RGB
	}{
		{"zero saturation is white", HS{0, 0}, RGB{255, 255, 255}},
		{"pure red", HS{0, 100}, RGB{255, 0, 0}},
		{"pure green", HS{120, 100}, RGB{0, 255, 0}},
		{"pure blue", HS{240, 100}, RGB{0, 0, 255}},
		{"360 wraps to red", HS{360, 100}, RGB{255, 0, 0}},
		{"negative hue wraps", HS{-120, 100}, RGB{0, 0, 255}},
		{"saturation clamped", HS{120, 250}, RGB{0, 255, 0}},
		{"half saturation", HS{0, 50}, RGB{255, 128, 128}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HSToRGB(tt.hs))
		})
	}
}

func TestBrightnessEndpoints(t *testing.T) {
	assert.Equal(t, 0, BrightnessToWire(0))
	assert.Equal(t, 100, BrightnessToWire(255))
	assert.Equal(t, uint8(0), BrightnessFromWire(0))
	assert.Equal(t, uint8(255), BrightnessFromWire(100))
	assert.Equal(t, uint8(255), BrightnessFromWire(180))
	assert.Equal(t, uint8(0), BrightnessFromWire(-3))
}

func TestBrightnessRoundsHalfUp(t *testing.T) {
	// 2*100/255 = 0.78 -> 1, 1*100/255 = 0.39 -> 0
	assert.Equal(t, 1, BrightnessToWire(2))
	assert.Equal(t, 0, BrightnessToWire(1))
	// 102*100/255 = 40.0
	assert.Equal(t, 40, BrightnessToWire(102))
	// 50*2.55 = 127.5 -> 128
	assert.Equal(t, uint8(128), BrightnessFromWire(50))
}

func TestWireRoundTripIsExact(t *testing.T) {
	for p := 0; p <= 100; p++ {
		require.Equal(t, p, BrightnessToWire(BrightnessFromWire(p)), "wire value %d", p)
	}
}

func TestHostRoundTripWithinOne(t *testing.T) {
	for h := 0; h <= 255; h++ {
		back := int(BrightnessFromWire(BrightnessToWire(uint8(h))))
		diff := back - h
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(t, diff, 1, "host value %d came back as %d", h, back)

		// once on the wire grid the value is stable
		wire := BrightnessToWire(uint8(h))
		require.Equal(t, wire, BrightnessToWire(BrightnessFromWire(wire)))
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("scaled", 0)
	require.NoError(t, err)
	assert.Equal(t, "scaled", p.Name())
	assert.Equal(t, 40, p.Wire(102))

	p, err = ParsePolicy("fixed", 100)
	require.NoError(t, err)
	assert.Equal(t, "fixed", p.Name())
	assert.Equal(t, 100, p.Wire(0))
	assert.Equal(t, 100, p.Wire(200))

	_, err = ParsePolicy("fixed", 101)
	assert.Error(t, err)
	_, err = ParsePolicy("gamma", 0)
	assert.Error(t, err)
}
