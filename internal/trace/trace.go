// Package trace publishes one event per dispatched envelope.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "acp.dispatch"

// Event summarizes one inbound envelope and what the receiver did with it.
type Event struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Target    string    `json:"target,omitempty"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome,omitempty"`
	Status    int       `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Kafka writes events as JSON to a topic, keyed by sender so that one
// agent's events stay ordered within a partition.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka creates a publisher for a comma-separated broker list.
func NewKafka(brokers, topic string) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("trace: publish %s: %w", ev.MessageID, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Message encodes ev as the Kafka message Kafka.Publish writes.
func Message(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("trace: encode event: %w", err)
	}
	return kafka.Message{Key: []byte(ev.Sender), Value: value, Time: ev.At}, nil
}

// Channel is an in-process publisher backed by a buffered channel. Events
// are dropped once the buffer is full.
type Channel struct {
	ch chan Event
}

func NewChannel(size int) *Channel {
	return &Channel{ch: make(chan Event, size)}
}

func (c *Channel) Publish(_ context.Context, ev Event) error {
	select {
	case c.ch <- ev:
		return nil
	default:
		return fmt.Errorf("trace: channel full, dropped %s", ev.MessageID)
	}
}

func (c *Channel) Events() <-chan Event { return c.ch }

func (c *Channel) Close() error {
	close(c.ch)
	return nil
}
