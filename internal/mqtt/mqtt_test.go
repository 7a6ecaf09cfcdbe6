package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/worldmapd/internal/color"
	"github.com/dokzlo13/worldmapd/internal/config"
	"github.com/dokzlo13/worldmapd/internal/dispatch"
	"github.com/dokzlo13/worldmapd/internal/eventbus"
	"github.com/dokzlo13/worldmapd/internal/mirror"
	"github.com/dokzlo13/worldmapd/internal/remote"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	messages  []published
	handler   paho.MessageHandler
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	var s string
	switch p := payload.(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	}
	c.mu.Lock()
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: s})
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Subscribe(_ string, _ byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	c.handler = cb
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) last(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].topic == topic {
			return c.messages[i], true
		}
	}
	return published{}, false
}

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type recordingLights struct {
	mu    sync.Mutex
	calls []LightCommand
	done  chan struct{}
}

func (l *recordingLights) TurnOn(_ context.Context, id int, in dispatch.Intent) (dispatch.Result, error) {
	l.record(LightCommand{Entity: id, On: true, Intent: in})
	return dispatch.Result{}, nil
}

func (l *recordingLights) TurnOff(_ context.Context, id int) (dispatch.Result, error) {
	l.record(LightCommand{Entity: id})
	return dispatch.Result{}, nil
}

func (l *recordingLights) record(c LightCommand) {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
	l.done <- struct{}{}
}

func newTestBridge(t *testing.T, records ...remote.Record) (*Bridge, *fakeClient, *mirror.Registry, *recordingLights) {
	t.Helper()
	clock := &mirror.Clock{}
	mirrors := mirror.NewRegistry(clock)
	mirrors.Replace(clock.Next(), records)

	bus := eventbus.NewWithConfig(1, 10)
	t.Cleanup(func() { bus.Close(context.Background()) })

	c := &fakeClient{}
	lights := &recordingLights{done: make(chan struct{}, 10)}
	b := newBridge(c, NewTopics("worldmap", "homeassistant"), time.Second, lights, mirrors, bus)
	return b, c, mirrors, lights
}

func entity(id int, name string) remote.Record {
	return remote.Record{
		Entity: remote.Entity{ID: id, Name: name, EndAddr: 10},
		State:  remote.EntityState{IsOn: true, Brightness: 100, RGBColor: [3]uint8{10, 20, 30}},
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("world/map", "homeassistant")

	assert.Equal(t, "world_map", topics.Node())
	assert.Equal(t, "world/map/bridge/state", topics.BridgeState())
	assert.Equal(t, "world/map/light/3/state", topics.LightState(3))
	assert.Equal(t, "world/map/light/3/set", topics.LightCommand(3))
	assert.Equal(t, "world/map/light/+/set", topics.LightCommandFilter())
	assert.Equal(t, "homeassistant/light/world_map/3/config", topics.LightConfig(3))

	id, ok := topics.ParseLightCommand("world/map/light/12/set")
	assert.True(t, ok)
	assert.Equal(t, 12, id)

	for _, topic := range []string{"world/map/light/x/set", "world/map/light/0/set", "other/light/1/set", "world/map/light/1/state"} {
		_, ok := topics.ParseLightCommand(topic)
		assert.False(t, ok, topic)
	}
}

func TestOptsFromConfig(t *testing.T) {
	opts := OptsFromConfig(config.MQTTConfig{
		Host: "broker", Port: 1883, Username: "u", Password: "p",
		BaseTopic: "worldmap", DiscoveryPrefix: "homeassistant", Timeout: config.Duration(time.Second),
	})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker:1883", opts.Servers[0].String())
	assert.Contains(t, opts.ClientID, "worldmapd_")
	assert.Equal(t, "u", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, "worldmap/bridge/state", opts.WillTopic)
	assert.Equal(t, []byte(PayloadOffline), opts.WillPayload)
}

func TestLightConfig(t *testing.T) {
	topics := NewTopics("worldmap", "homeassistant")
	cfg := NewLightConfig(topics, mirror.Mirror{Entity: remote.Entity{ID: 4, Name: "Europe"}})

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, "json", out["schema"])
	assert.Equal(t, "Europe", out["name"])
	assert.Equal(t, "worldmap_entity_4", out["unique_id"])
	assert.Equal(t, "worldmap/light/4/set", out["command_topic"])
	assert.Equal(t, "worldmap/bridge/state", out["availability_topic"])
	assert.Equal(t, true, out["brightness"])
	assert.Equal(t, float64(255), out["brightness_scale"])
	assert.Equal(t, []any{"rgb"}, out["supported_color_modes"])

	unnamed := NewLightConfig(topics, mirror.Mirror{Entity: remote.Entity{ID: 9}})
	assert.Equal(t, "Entity 9", unnamed.Name)
}

func TestStatePayload(t *testing.T) {
	m := mirror.Mirror{State: mirror.State{IsOn: true, RGB: color.RGB{R: 1, G: 2, B: 3}, Brightness: 128}}
	raw, err := json.Marshal(NewStatePayload(m))
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"ON","brightness":128,"color_mode":"rgb","color":{"r":1,"g":2,"b":3}}`, string(raw))

	m.State.IsOn = false
	assert.Equal(t, PayloadOff, NewStatePayload(m).State)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(3, []byte(`{"state":"ON","brightness":200,"color":{"r":1,"g":2,"b":3}}`))
	require.NoError(t, err)
	assert.True(t, cmd.On)
	require.NotNil(t, cmd.Intent.Brightness)
	assert.Equal(t, uint8(200), *cmd.Intent.Brightness)
	assert.Equal(t, &color.RGB{R: 1, G: 2, B: 3}, cmd.Intent.RGB)

	cmd, err = ParseCommand(3, []byte(`{"state":"ON","color":{"h":120,"s":100}}`))
	require.NoError(t, err)
	assert.Equal(t, &color.HS{Hue: 120, Saturation: 100}, cmd.Intent.HS)

	cmd, err = ParseCommand(3, []byte(`{"state":"OFF","brightness":10}`))
	require.NoError(t, err)
	assert.False(t, cmd.On)
	assert.Nil(t, cmd.Intent.Brightness)

	for _, bad := range []string{`{"state":"BLINK"}`, `{"state":"ON","brightness":256}`, `{"state":"ON","color":{"r":1}}`, `nope`} {
		_, err := ParseCommand(3, []byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestStartPublishesDiscoveryOnConnect(t *testing.T) {
	b, c, _, _ := newTestBridge(t, entity(1, "Africa"), entity(2, "Asia"))

	require.NoError(t, b.Start(context.Background()))
	b.onConnect()

	online, ok := c.last("worldmap/bridge/state")
	require.True(t, ok)
	assert.Equal(t, PayloadOnline, online.payload)
	assert.True(t, online.retained)

	for _, id := range []int{1, 2} {
		cfg, ok := c.last(b.Topics().LightConfig(id))
		require.True(t, ok)
		assert.True(t, cfg.retained)
		state, ok := c.last(b.Topics().LightState(id))
		require.True(t, ok)
		assert.Contains(t, state.payload, `"state":"ON"`)
	}
}

func TestSyncClearsVanishedEntities(t *testing.T) {
	b, c, mirrors, _ := newTestBridge(t, entity(1, "Africa"), entity(2, "Asia"))
	c.Connect()

	b.Sync(mirrors.All())
	mirrors.Replace(mirrors.Clock().Next(), []remote.Record{entity(1, "Africa")})
	b.Sync(mirrors.All())

	cleared, ok := c.last(b.Topics().LightConfig(2))
	require.True(t, ok)
	assert.Empty(t, cleared.payload)
	assert.True(t, cleared.retained)

	kept, _ := c.last(b.Topics().LightConfig(1))
	assert.NotEmpty(t, kept.payload)
}

func TestSyncSkippedWhileDisconnected(t *testing.T) {
	b, c, mirrors, _ := newTestBridge(t, entity(1, "Africa"))

	b.Sync(mirrors.All())
	assert.Empty(t, c.messages)
}

func TestCommandMessageReachesLights(t *testing.T) {
	b, c, _, lights := newTestBridge(t, entity(1, "Africa"))
	require.NoError(t, b.Start(context.Background()))
	b.onConnect()

	require.NotNil(t, c.handler)
	c.handler(nil, fakeMessage{topic: "worldmap/light/1/set", payload: []byte(`{"state":"ON","brightness":64}`)})
	c.handler(nil, fakeMessage{topic: "worldmap/light/1/set", payload: []byte(`{"state":"OFF"}`)})

	for i := 0; i < 2; i++ {
		select {
		case <-lights.done:
		case <-time.After(time.Second):
			t.Fatal("light command not delivered")
		}
	}

	lights.mu.Lock()
	defer lights.mu.Unlock()
	require.Len(t, lights.calls, 2)
	assert.True(t, lights.calls[0].On)
	assert.Equal(t, uint8(64), *lights.calls[0].Intent.Brightness)
	assert.False(t, lights.calls[1].On)
}
