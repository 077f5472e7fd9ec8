package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	kidwatch "github.com/kidwatch/kidwatch-go"
)

type token struct {
	err error
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Error() error                   { return t.err }

func (t *token) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

var _ mqtt.Token = (*token)(nil)

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	msgs         []message
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, message{topic, qos, payload.([]byte)})
	return &token{c.err}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.disconnected = true
}

func newPublisher(c client, opts Opts) *Publisher {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = withDefaults(opts)
	return &Publisher{opts: opts, log: opts.Logger, client: c, connected: true}
}

func TestWrite(t *testing.T) {
	c := &fakeClient{}
	p := newPublisher(c, Opts{Topic: "home/kidwatch/", QoS: 1})

	ev := kidwatch.EventRecord{
		ID:        "e1",
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Mode:      kidwatch.ModeEating,
		Message:   "Use your fork",
		Category:  kidwatch.CategoryViolation,
		SubjectID: "sam",
	}
	if err := p.Write(context.Background(), ev); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(c.msgs) != 1 {
		t.Fatalf("got %d messages, expected 1", len(c.msgs))
	}
	m := c.msgs[0]
	if m.topic != "home/kidwatch/sam/violation" || m.qos != 1 {
		t.Fatalf("got topic %q qos %d, expected home/kidwatch/sam/violation qos 1", m.topic, m.qos)
	}
	var got kidwatch.EventRecord
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if got.ID != ev.ID || got.Message != ev.Message || got.Mode != ev.Mode || !got.Timestamp.Equal(ev.Timestamp) {
		t.Fatalf("got %+v, expected %+v", got, ev)
	}

	if err := p.Close(); err != nil || !c.disconnected {
		t.Fatalf("close did not disconnect, err %v", err)
	}
	if err := p.Write(context.Background(), ev); err == nil {
		t.Fatalf("missing error writing after close")
	}
}

func TestWriteError(t *testing.T) {
	c := &fakeClient{err: errors.New("not authorized")}
	p := newPublisher(c, Opts{})
	err := p.Write(context.Background(), kidwatch.EventRecord{ID: "e1", Category: kidwatch.CategoryViolation})
	if err == nil {
		t.Fatalf("missing publish error")
	}
	if c.msgs[0].topic != "kidwatch/events/default/violation" {
		t.Fatalf("got topic %q", c.msgs[0].topic)
	}
}

func TestTopicLevel(t *testing.T) {
	p := newPublisher(&fakeClient{}, Opts{})
	got := p.Topic(kidwatch.EventRecord{SubjectID: "a/b+#", Category: "violation"})
	if got != "kidwatch/events/a_b__/violation" {
		t.Fatalf("got topic %q", got)
	}
}

func TestConnectUnreachable(t *testing.T) {
	p, err := Connect(Opts{
		Broker:         "tcp://127.0.0.1:1",
		ConnectTimeout: 100 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("connect to unreachable broker: %v", err)
	}
	defer p.Close()

	if err := p.Write(context.Background(), kidwatch.EventRecord{ID: "e1", Category: kidwatch.CategoryViolation}); err == nil {
		t.Fatalf("missing error writing while not connected")
	}
	if _, err := Connect(Opts{}); err == nil {
		t.Fatalf("missing error for empty broker")
	}
}
