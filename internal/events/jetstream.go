package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/modconsole/internal/cases"
)

const (
	StreamName    = "MODERATION_CASES"
	SubjectPrefix = "moderation.case"
)

// Subject returns moderation.case.<kind>.<status>. Escrow release listens on
// moderation.case.delivery_evidence.approved.
func Subject(kind cases.Kind, status cases.Status) string {
	return SubjectPrefix + "." + token(string(kind)) + "." + token(string(status))
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// EnsureStream creates the case event stream if it does not exist.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:       StreamName,
			Subjects:   []string{SubjectPrefix + ".>"},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: 2 * time.Minute,
		}); err != nil {
			return err
		}
	}
	return nil
}

// streamPublisher is the part of nats.JetStreamContext the publisher uses.
type streamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// JetStreamPublisher publishes case events to JetStream. The event id is
// used as the message id so redeliveries are deduplicated by the stream.
type JetStreamPublisher struct {
	JS streamPublisher
}

func NewJetStreamPublisher(js nats.JetStreamContext) *JetStreamPublisher {
	return &JetStreamPublisher{JS: js}
}

func (p *JetStreamPublisher) Publish(ctx context.Context, ev cases.CaseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode case event: %w", err)
	}
	subject := Subject(ev.Kind, ev.To)
	if _, err := p.JS.Publish(subject, data, nats.MsgId(ev.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Client owns a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// Connect dials url and makes sure the case stream exists.
func Connect(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("modconsole"))
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := EnsureStream(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

// ConnectWithRetry retries Connect until timeout elapses.
func ConnectWithRetry(url string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := Connect(url)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

func (c *Client) Publisher() *JetStreamPublisher {
	return NewJetStreamPublisher(c.JS)
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}
