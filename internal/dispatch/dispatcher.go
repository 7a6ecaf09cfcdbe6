// Package dispatch turns per-entity light intents into color commands and
// delivers them over the realtime channel, falling back to REST.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/worldmapd/internal/color"
	"github.com/dokzlo13/worldmapd/internal/mirror"
	"github.com/dokzlo13/worldmapd/internal/realtime"
	"github.com/dokzlo13/worldmapd/internal/remote"
)

// ErrUnknownEntity is returned for intents against an entity that is not mirrored.
var ErrUnknownEntity = errors.New("unknown entity")

// Channel is the optional push channel
type Channel interface {
	Connected() bool
	Emit(ctx context.Context, event string, payload any) error
}

// Backend is the REST side of the remote store
type Backend interface {
	SetColor(ctx context.Context, cmd remote.ColorCommand) (*remote.ColorResult, error)
	Toggle(ctx context.Context, cmd remote.ToggleCommand) (*remote.ToggleResult, error)
}

// Via names the transport a command was delivered over
type Via string

const (
	ViaRealtime Via = "realtime"
	ViaREST     Via = "rest"
)

// Result describes a delivered command
type Result struct {
	Via     Via
	Command remote.ColorCommand
	Mirror  mirror.Mirror
}

// Intent is what the host asked for. Nil fields fall back to the mirror.
// HS takes precedence over RGB.
type Intent struct {
	HS         *color.HS
	RGB        *color.RGB
	Brightness *uint8 // host scale 0..255
}

// Options configures a Dispatcher
type Options struct {
	Policy       color.BrightnessPolicy
	RateLimitRPS float64
	RESTToggle   bool
}

// Dispatcher delivers light commands.
type Dispatcher struct {
	backend    Backend
	channel    Channel
	mirrors    *mirror.Registry
	policy     color.BrightnessPolicy
	restToggle bool
	limiter    *rate.Limiter
}

// New creates a Dispatcher. channel may be nil when realtime is disabled.
func New(backend Backend, channel Channel, mirrors *mirror.Registry, opts Options) *Dispatcher {
	if opts.Policy == nil {
		opts.Policy = color.Scaled{}
	}
	if opts.RateLimitRPS == 0 {
		opts.RateLimitRPS = 10.0
	}
	burst := int(opts.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Dispatcher{
		backend:    backend,
		channel:    channel,
		mirrors:    mirrors,
		policy:     opts.Policy,
		restToggle: opts.RESTToggle,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst),
	}
}

// Policy returns the brightness policy in use
func (d *Dispatcher) Policy() color.BrightnessPolicy {
	return d.policy
}

// TurnOn switches an entity on, optionally changing color and brightness.
func (d *Dispatcher) TurnOn(ctx context.Context, id int, in Intent) (Result, error) {
	cmd, host, err := d.prepare(id, true, in)
	if err != nil {
		return Result{}, err
	}
	plain := in.HS == nil && in.RGB == nil && in.Brightness == nil
	return d.deliver(ctx, cmd, host, plain)
}

// TurnOff switches an entity off, keeping its last color and brightness.
func (d *Dispatcher) TurnOff(ctx context.Context, id int) (Result, error) {
	cmd, host, err := d.prepare(id, false, Intent{})
	if err != nil {
		return Result{}, err
	}
	return d.deliver(ctx, cmd, host, true)
}

// SetColor switches an entity on with an explicit color and brightness.
func (d *Dispatcher) SetColor(ctx context.Context, id int, rgb color.RGB, brightness uint8) (Result, error) {
	return d.TurnOn(ctx, id, Intent{RGB: &rgb, Brightness: &brightness})
}

// Send delivers a wire-level command as is. The entity does not have to be mirrored.
func (d *Dispatcher) Send(ctx context.Context, cmd remote.ColorCommand) (Result, error) {
	return d.deliver(ctx, cmd, stateFromCommand(cmd), false)
}

func (d *Dispatcher) prepare(id int, on bool, in Intent) (remote.ColorCommand, mirror.State, error) {
	m, ok := d.mirrors.Get(id)
	if !ok {
		return remote.ColorCommand{}, mirror.State{}, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}

	rgb := m.State.RGB
	switch {
	case in.HS != nil:
		rgb = color.HSToRGB(*in.HS)
	case in.RGB != nil:
		rgb = *in.RGB
	}

	brightness := m.State.Brightness
	if in.Brightness != nil {
		brightness = *in.Brightness
	}

	cmd := remote.ColorCommand{
		Entity:     id,
		Red:        rgb.R,
		Green:      rgb.G,
		Blue:       rgb.B,
		Brightness: d.policy.Wire(brightness),
		IsOn:       on,
	}
	host := mirror.State{IsOn: on, RGB: rgb, Brightness: brightness}
	return cmd, host, nil
}

func (d *Dispatcher) deliver(ctx context.Context, cmd remote.ColorCommand, host mirror.State, powerOnly bool) (Result, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	if d.channel != nil && d.channel.Connected() {
		err := d.channel.Emit(ctx, realtime.EventSetColor, cmd)
		if err == nil {
			m, _ := d.mirrors.Apply(cmd.Entity, host, mirror.SourceOptimistic)
			log.Debug().
				Int("entity", cmd.Entity).
				Bool("is_on", cmd.IsOn).
				Int("brightness", cmd.Brightness).
				Msg("Color command sent over realtime channel")
			return Result{Via: ViaRealtime, Command: cmd, Mirror: m}, nil
		}
		log.Warn().Err(err).Int("entity", cmd.Entity).Msg("Realtime emit failed, falling back to REST")
	}

	if powerOnly && d.restToggle {
		return d.toggle(ctx, cmd, host)
	}

	res, err := d.backend.SetColor(ctx, cmd)
	if err != nil {
		log.Error().Err(err).Int("entity", cmd.Entity).Msg("Failed to set color")
		return Result{Via: ViaREST, Command: cmd}, err
	}

	// the server's view of what it applied wins over what was asked for
	state := host
	if applied := res.Applied(cmd); applied != cmd {
		state = stateFromCommand(applied)
		log.Info().
			Int("entity", cmd.Entity).
			Interface("sent", cmd).
			Interface("applied", applied).
			Msg("Server applied a different color state")
	}
	m, _ := d.mirrors.Apply(cmd.Entity, state, mirror.SourceServer)

	log.Info().Int("entity", cmd.Entity).Msg("Color set successfully")
	return Result{Via: ViaREST, Command: cmd, Mirror: m}, nil
}

func (d *Dispatcher) toggle(ctx context.Context, cmd remote.ColorCommand, host mirror.State) (Result, error) {
	res, err := d.backend.Toggle(ctx, remote.ToggleCommand{Entity: cmd.Entity, IsOn: cmd.IsOn})
	if err != nil {
		log.Error().Err(err).Int("entity", cmd.Entity).Msg("Failed to toggle entity")
		return Result{Via: ViaREST, Command: cmd}, err
	}

	state := host
	state.IsOn = res.IsOn
	m, _ := d.mirrors.Apply(cmd.Entity, state, mirror.SourceServer)
	result := Result{Via: ViaREST, Command: cmd, Mirror: m}

	if res.IsOn != cmd.IsOn {
		log.Error().Int("entity", cmd.Entity).Bool("requested", cmd.IsOn).Bool("reported", res.IsOn).Msg("Toggle not applied")
		return result, fmt.Errorf("failed to toggle entity %d: %w", cmd.Entity, remote.ErrRejected)
	}

	log.Info().Int("entity", cmd.Entity).Bool("is_on", res.IsOn).Msg("Toggled entity")
	return result, nil
}

func stateFromCommand(cmd remote.ColorCommand) mirror.State {
	return mirror.State{
		IsOn:       cmd.IsOn,
		RGB:        color.RGB{R: cmd.Red, G: cmd.Green, B: cmd.Blue},
		Brightness: color.BrightnessFromWire(cmd.Brightness),
	}
}
