// Package memory keeps published review events in process, for tests and
// deployments without a Pub/Sub topic.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Attributes map[string]string
}

// Publisher records events instead of sending them.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	failWith error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records payload under topic. Payloads exposing Attributes() have
// them copied onto the message, as the Pub/Sub publisher does.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.failWith)
	}
	msg := Message{
		ID:      fmt.Sprintf("memory-%d", len(p.messages)+1),
		Topic:   topic,
		Payload: payload,
	}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		msg.Attributes = maps.Clone(a.Attributes())
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topic returns the messages published to topic.
func (p *Publisher) Topic(topic string) []Message {
	var out []Message
	for _, m := range p.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
