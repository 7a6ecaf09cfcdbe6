package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/config"
	"github.com/dokzlo13/worldmapd/internal/dispatch"
	"github.com/dokzlo13/worldmapd/internal/eventbus"
	"github.com/dokzlo13/worldmapd/internal/mirror"
)

// Lights accepts per-entity light intents
type Lights interface {
	TurnOn(ctx context.Context, id int, in dispatch.Intent) (dispatch.Result, error)
	TurnOff(ctx context.Context, id int) (dispatch.Result, error)
}

// client is the subset of paho.Client the bridge uses
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Bridge publishes discovery and state for mirrored entities and forwards
// light commands from the broker to the dispatcher.
type Bridge struct {
	client  client
	topics  Topics
	timeout time.Duration
	lights  Lights
	mirrors *mirror.Registry
	bus     *eventbus.Bus

	mu         sync.Mutex
	discovered map[int]bool
}

// NewBridge creates a bridge for the configured broker
func NewBridge(cfg config.MQTTConfig, lights Lights, mirrors *mirror.Registry, bus *eventbus.Bus) *Bridge {
	b := newBridge(nil, NewTopics(cfg.BaseTopic, cfg.DiscoveryPrefix), cfg.Timeout.Duration(), lights, mirrors, bus)

	opts := OptsFromConfig(cfg)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(paho.Client) { b.onConnect() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})
	b.client = paho.NewClient(opts)
	return b
}

func newBridge(c client, topics Topics, timeout time.Duration, lights Lights, mirrors *mirror.Registry, bus *eventbus.Bus) *Bridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{
		client:     c,
		topics:     topics,
		timeout:    timeout,
		lights:     lights,
		mirrors:    mirrors,
		bus:        bus,
		discovered: make(map[int]bool),
	}
}

// Topics returns the topic helpers in use
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Start subscribes to bus events and connects to the broker.
// An unreachable broker is retried in the background.
func (b *Bridge) Start(ctx context.Context) error {
	b.bus.Subscribe(eventbus.EventLightCommand, b.handleCommand)
	b.bus.Subscribe(eventbus.EventMirrorChanged, b.handleMirrorChanged)
	b.bus.Subscribe(eventbus.EventSnapshotRefreshed, func(eventbus.Event) {
		b.Sync(b.mirrors.All())
	})

	token := b.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
	case <-time.After(b.timeout):
		log.Warn().Msg("MQTT broker not reachable yet, retrying in background")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (b *Bridge) onConnect() {
	log.Info().Str("node", b.topics.Node()).Msg("Connected to MQTT broker")

	if err := b.publish(b.topics.BridgeState(), true, PayloadOnline); err != nil {
		log.Error().Err(err).Msg("Failed to publish bridge state")
	}

	token := b.client.Subscribe(b.topics.LightCommandFilter(), 1, b.handleMessage)
	if err := wait(token, b.timeout, "subscribe"); err != nil {
		log.Error().Err(err).Str("topic", b.topics.LightCommandFilter()).Msg("Failed to subscribe to light commands")
	}

	// retained configs may be gone after a broker restart
	b.mu.Lock()
	b.discovered = make(map[int]bool)
	b.mu.Unlock()

	all := b.mirrors.All()
	b.Sync(all)
	for _, m := range all {
		b.PublishState(m)
	}
}

// Sync publishes discovery for every mirror and clears it for entities that vanished.
func (b *Bridge) Sync(mirrors []mirror.Mirror) {
	if !b.client.IsConnected() {
		return
	}

	current := make(map[int]bool, len(mirrors))
	for _, m := range mirrors {
		current[m.Entity.ID] = true
		payload, err := json.Marshal(NewLightConfig(b.topics, m))
		if err != nil {
			log.Error().Err(err).Int("entity", m.Entity.ID).Msg("Failed to encode discovery config")
			continue
		}
		if err := b.publish(b.topics.LightConfig(m.Entity.ID), true, payload); err != nil {
			log.Error().Err(err).Int("entity", m.Entity.ID).Msg("Failed to publish discovery config")
			current[m.Entity.ID] = false
		}
	}

	b.mu.Lock()
	var vanished []int
	for id := range b.discovered {
		if !current[id] {
			vanished = append(vanished, id)
		}
	}
	for id, ok := range current {
		if ok {
			b.discovered[id] = true
		}
	}
	b.mu.Unlock()

	for _, id := range vanished {
		if err := b.publish(b.topics.LightConfig(id), true, ""); err != nil {
			log.Error().Err(err).Int("entity", id).Msg("Failed to clear discovery config")
			continue
		}
		b.publish(b.topics.LightState(id), true, "")

		b.mu.Lock()
		delete(b.discovered, id)
		b.mu.Unlock()
		log.Info().Int("entity", id).Msg("Removed discovery for vanished entity")
	}

	log.Debug().Int("entities", len(mirrors)).Int("removed", len(vanished)).Msg("Discovery synced")
}

// PublishState publishes the retained state of one mirror
func (b *Bridge) PublishState(m mirror.Mirror) {
	if !b.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(NewStatePayload(m))
	if err != nil {
		log.Error().Err(err).Int("entity", m.Entity.ID).Msg("Failed to encode light state")
		return
	}
	if err := b.publish(b.topics.LightState(m.Entity.ID), true, payload); err != nil {
		log.Error().Err(err).Int("entity", m.Entity.ID).Msg("Failed to publish light state")
	}
}

func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	id, ok := b.topics.ParseLightCommand(msg.Topic())
	if !ok {
		log.Debug().Str("topic", msg.Topic()).Msg("Ignoring message on unknown topic")
		return
	}
	cmd, err := ParseCommand(id, msg.Payload())
	if err != nil {
		log.Warn().Err(err).Int("entity", id).Msg("Invalid light command")
		return
	}
	b.bus.Publish(eventbus.EventLightCommand, cmd)
}

func (b *Bridge) handleCommand(e eventbus.Event) {
	cmd, ok := e.Data.(LightCommand)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	if cmd.On {
		_, err = b.lights.TurnOn(ctx, cmd.Entity, cmd.Intent)
	} else {
		_, err = b.lights.TurnOff(ctx, cmd.Entity)
	}
	if err != nil {
		log.Error().Err(err).Int("entity", cmd.Entity).Bool("on", cmd.On).Msg("Light command from MQTT failed")
		// republish so the host does not keep showing the requested state
		if m, ok := b.mirrors.Get(cmd.Entity); ok {
			b.PublishState(m)
		}
	}
}

func (b *Bridge) handleMirrorChanged(e eventbus.Event) {
	if m, ok := e.Data.(mirror.Mirror); ok {
		b.PublishState(m)
	}
}

// Close publishes offline availability and disconnects
func (b *Bridge) Close() {
	if b.client.IsConnected() {
		if err := b.publish(b.topics.BridgeState(), true, PayloadOffline); err != nil {
			log.Warn().Err(err).Msg("Failed to publish offline state")
		}
	}
	b.client.Disconnect(250)
	log.Info().Msg("Disconnected from MQTT broker")
}

func (b *Bridge) publish(topic string, retained bool, payload any) error {
	return wait(b.client.Publish(topic, 1, retained, payload), b.timeout, "publish")
}

var errTimeout = errors.New("timed out")

func wait(token paho.Token, timeout time.Duration, op string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("MQTT %s: %w", op, errTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT %s: %w", op, err)
	}
	return nil
}
