// Package publisher announces finished items and runs on a message bus.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// Publisher publishes JSON-encodable payloads. Implementations live in the
// pubsub and memory subpackages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Event types carried in Message.Type.
const (
	TypeItemFinished = "nsn.item.finished"
	TypeRunFinished  = "nsn.run.finished"
)

// Message is the envelope published for every item and run.
type Message struct {
	Type   string                    `json:"type"`
	RunKey string                    `json:"run_key"`
	SentAt time.Time                 `json:"sent_at"`
	Item   *sourcing.ItemResult      `json:"item,omitempty"`
	Run    *sourcing.BatchRunSummary `json:"run,omitempty"`
}

// ResultSink publishes item results and the run summary to a topic.
type ResultSink struct {
	pub    Publisher
	topic  string
	runKey string
	now    func() time.Time
}

// NewResultSink builds a sink publishing to topic.
func NewResultSink(pub Publisher, topic, runKey string) (*ResultSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &ResultSink{pub: pub, topic: topic, runKey: runKey, now: time.Now}, nil
}

// Append publishes one item result and waits for the broker to acknowledge it.
func (s *ResultSink) Append(ctx context.Context, result sourcing.ItemResult) error {
	msg := Message{Type: TypeItemFinished, RunKey: s.runKey, SentAt: s.now().UTC(), Item: &result}
	if _, err := s.pub.Publish(ctx, s.topic, msg); err != nil {
		return fmt.Errorf("publish item %s: %w", result.Key, err)
	}
	return nil
}

// Close publishes the run summary.
func (s *ResultSink) Close(ctx context.Context, summary sourcing.BatchRunSummary) error {
	msg := Message{Type: TypeRunFinished, RunKey: s.runKey, SentAt: s.now().UTC(), Run: &summary}
	if _, err := s.pub.Publish(ctx, s.topic, msg); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	return nil
}
