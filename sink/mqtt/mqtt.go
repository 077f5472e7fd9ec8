// Package mqtt publishes events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/sink"
)

// Opts are options for a Publisher.
type Opts struct {
	Broker   string // Eg "tcp://localhost:1883".
	ClientID string // Default "kidwatch".
	Username string
	Password string
	Topic    string // Topic prefix, events go to {Topic}/{subject}/{category}. Default "kidwatch/events".
	QoS      byte

	ConnectTimeout time.Duration // Default 5s.
	PublishTimeout time.Duration // Default 2s.

	Logger *slog.Logger
}

// client is the part of mqtt.Client used by Publisher.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends events as JSON messages.
type Publisher struct {
	opts   Opts
	log    *slog.Logger
	client client

	mu        sync.Mutex
	connected bool
}

// Ensure Publisher implements sink.Backend.
var _ sink.Backend = (*Publisher)(nil)

func withDefaults(opts Opts) Opts {
	if opts.ClientID == "" {
		opts.ClientID = "kidwatch"
	}
	if opts.Topic == "" {
		opts.Topic = "kidwatch/events"
	}
	opts.Topic = strings.TrimRight(opts.Topic, "/")
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Connect connects to the broker. The connection is re-established
// automatically when lost. A broker that cannot be reached within
// ConnectTimeout is not an error: the connection is retried in the
// background and Write fails until it succeeds.
//
// Callers must call Close to disconnect.
func Connect(opts Opts) (*Publisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	opts = withDefaults(opts)
	p := &Publisher{opts: opts, log: opts.Logger}

	mopts := mqtt.NewClientOptions()
	mopts.AddBroker(opts.Broker)
	mopts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		mopts.SetUsername(opts.Username)
		mopts.SetPassword(opts.Password)
	}
	mopts.SetAutoReconnect(true)
	mopts.SetConnectRetry(true)
	mopts.SetConnectRetryInterval(2 * time.Second)
	mopts.SetMaxReconnectInterval(30 * time.Second)
	mopts.SetConnectTimeout(opts.ConnectTimeout)

	mopts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		p.log.Info("mqtt connection established", "broker", opts.Broker, "client_id", opts.ClientID)
	}
	mopts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		p.log.Warn("mqtt connection lost, will auto-reconnect", "broker", opts.Broker, "error", err)
	}

	c := mqtt.NewClient(mopts)
	p.client = c

	p.log.Info("connecting to mqtt broker", "broker", opts.Broker)
	token := c.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		// The client keeps retrying, events fail until OnConnect runs.
		p.log.Warn("mqtt broker not reachable yet, retrying in background", "broker", opts.Broker, "timeout", opts.ConnectTimeout)
		return p, nil
	}
	if err := token.Error(); err != nil {
		c.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return p, nil
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Topic returns the topic ev is published to.
func (p *Publisher) Topic(ev kidwatch.EventRecord) string {
	subject := ev.SubjectID
	if subject == "" {
		subject = "default"
	}
	return fmt.Sprintf("%s/%s/%s", p.opts.Topic, topicLevel(subject), topicLevel(ev.Category))
}

// topicLevel replaces characters with special meaning in topics.
func topicLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// Write publishes ev as JSON.
func (p *Publisher) Write(ctx context.Context, ev kidwatch.EventRecord) error {
	if !p.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := p.Topic(ev)
	token := p.client.Publish(topic, p.opts.QoS, false, payload)
	timeout := p.opts.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	p.log.Debug("event published", "topic", topic, "qos", p.opts.QoS, "size", len(payload))
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(250)
		p.log.Info("mqtt disconnected")
	}
	p.setConnected(false)
	return nil
}
