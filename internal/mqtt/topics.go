// Package mqtt registers mirrored entities as discoverable lights on an MQTT
// broker and turns light commands received there into dispatcher intents.
package mqtt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dokzlo13/worldmapd/internal/config"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
)

// Topics builds every topic the bridge uses
type Topics struct {
	base      string
	discovery string
	node      string
	command   *regexp.Regexp
}

// NewTopics creates topic helpers for a base topic and discovery prefix
func NewTopics(baseTopic, discoveryPrefix string) Topics {
	return Topics{
		base:      baseTopic,
		discovery: discoveryPrefix,
		node:      nodeID(baseTopic),
		command:   regexp.MustCompile("^" + regexp.QuoteMeta(baseTopic) + `/light/([0-9]+)/set$`),
	}
}

// Node is the discovery node id
func (t Topics) Node() string {
	return t.node
}

func (t Topics) BridgeState() string {
	return fmt.Sprintf("%s/bridge/state", t.base)
}

func (t Topics) LightState(id int) string {
	return fmt.Sprintf("%s/light/%d/state", t.base, id)
}

func (t Topics) LightCommand(id int) string {
	return fmt.Sprintf("%s/light/%d/set", t.base, id)
}

// LightCommandFilter matches the command topic of every light
func (t Topics) LightCommandFilter() string {
	return fmt.Sprintf("%s/light/+/set", t.base)
}

func (t Topics) LightConfig(id int) string {
	return fmt.Sprintf("%s/light/%s/%d/config", t.discovery, t.node, id)
}

// ParseLightCommand extracts the entity id from a command topic
func (t Topics) ParseLightCommand(topic string) (int, bool) {
	m := t.command.FindStringSubmatch(topic)
	if len(m) != 2 {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// UniqueID is the stable discovery id of an entity
func (t Topics) UniqueID(id int) string {
	return fmt.Sprintf("%s_entity_%d", t.node, id)
}

var nodeSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func nodeID(baseTopic string) string {
	n := nodeSanitizer.ReplaceAllString(baseTopic, "_")
	n = strings.Trim(n, "_")
	if n == "" {
		return "worldmap"
	}
	return n
}

// OptsFromConfig builds client options with an offline last will on the bridge state topic
func OptsFromConfig(cfg config.MQTTConfig) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "worldmapd_" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout.Duration())

	topics := NewTopics(cfg.BaseTopic, cfg.DiscoveryPrefix)
	opts.SetWill(topics.BridgeState(), PayloadOffline, 1, true)

	return opts
}
