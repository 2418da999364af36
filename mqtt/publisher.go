// Package mqtt publishes tag changes, alarm transitions, and state
// changes to an MQTT broker for remote monitoring of the unit.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"lactlink/config"
	"lactlink/logging"
)

// TagMessage is the JSON payload for a tag value.
type TagMessage struct {
	Unit      string      `json:"unit"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Quality   string      `json:"quality"`
	Timestamp time.Time   `json:"timestamp"`
}

// AlarmMessage is the JSON payload for an alarm transition.
type AlarmMessage struct {
	Unit      string    `json:"unit"`
	ID        string    `json:"id"`
	Severity  string    `json:"severity"`
	Action    string    `json:"action"`
	Active    bool      `json:"active"`
	Acked     bool      `json:"acked"`
	Value     float64   `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage is the JSON payload for a state transition.
type StateMessage struct {
	Unit      string    `json:"unit"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher maintains one broker connection and publishes unit
// telemetry under {namespace}/{unit}/...
type Publisher struct {
	cfg       config.MQTTConfig
	namespace string
	unit      string

	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex

	// Last published value per tag, to publish changes only.
	lastValues map[string]interface{}
	lastMu     sync.Mutex
}

// NewPublisher creates an MQTT publisher for the unit.
func NewPublisher(cfg config.MQTTConfig, namespace, unit string) *Publisher {
	return &Publisher{
		cfg:        cfg,
		namespace:  namespace,
		unit:       unit,
		lastValues: make(map[string]interface{}),
	}
}

// IsRunning reports whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running && p.client != nil && p.client.IsConnected()
}

// Start connects to the broker.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	opts := pahomqtt.NewClientOptions()
	scheme := "tcp"
	if p.cfg.UseTLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, p.cfg.Broker, p.cfg.Port))
	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("lactlink-%s", p.unit)
	}
	opts.SetClientID(clientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logging.DebugLog("mqtt", "connected to %s:%d", p.cfg.Broker, p.cfg.Port)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		return fmt.Errorf("mqtt connect %s:%d: %v", p.cfg.Broker, p.cfg.Port, token.Error())
	}

	p.client = client
	p.running = true
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.client.Disconnect(250)
	p.running = false
}

func (p *Publisher) topic(parts ...string) string {
	t := p.namespace + "/" + p.unit
	for _, part := range parts {
		t += "/" + part
	}
	return t
}

func (p *Publisher) publishJSON(topic string, v interface{}) {
	if !p.IsRunning() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logging.DebugLog("mqtt", "marshal error on %s: %v", topic, err)
		return
	}
	p.client.Publish(topic, 0, true, data)
}

// PublishTag publishes a tag value if it changed since the last
// publish for that tag.
func (p *Publisher) PublishTag(name string, value interface{}, quality string, ts time.Time) {
	p.lastMu.Lock()
	last, seen := p.lastValues[name]
	if seen && fmt.Sprintf("%v", last) == fmt.Sprintf("%v", value) {
		p.lastMu.Unlock()
		return
	}
	p.lastValues[name] = value
	p.lastMu.Unlock()

	p.publishJSON(p.topic("tag", name), TagMessage{
		Unit: p.unit, Tag: name, Value: value, Quality: quality, Timestamp: ts,
	})
}

// PublishAlarm publishes an alarm transition.
func (p *Publisher) PublishAlarm(msg AlarmMessage) {
	msg.Unit = p.unit
	p.publishJSON(p.topic("alarm", msg.ID), msg)
}

// PublishState publishes a state transition.
func (p *Publisher) PublishState(from, to string, ts time.Time) {
	p.publishJSON(p.topic("state"), StateMessage{Unit: p.unit, From: from, To: to, Timestamp: ts})
}

// PublishReport publishes a batch or proving report under
// .../report/{kind}.
func (p *Publisher) PublishReport(kind string, report interface{}) {
	p.publishJSON(p.topic("report", kind), report)
}
