package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "publisher:runs:"

// Event kinds.
const (
	KindTransition = "transition"
	KindProgress   = "progress"
	KindFinished   = "finished"
)

// Event is one observable step of a run.
type Event struct {
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	StreamID    string    `json:"stream_id,omitempty"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	VideoID     string    `json:"video_id,omitempty"`
	Committed   int64     `json:"committed,omitempty"`
	Total       int64     `json:"total,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// Channel returns the pub/sub channel carrying a run's events.
func Channel(runID string) string { return channelPrefix + runID }

type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher fans run events out over Redis pub/sub. Publishing is best-effort:
// a failed publish is logged and never fails the run.
type Publisher struct {
	client publishClient
	log    *zap.Logger
}

// NewPublisher creates a publisher. A nil client yields a publisher that drops events.
func NewPublisher(client *redis.Client, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{log: log}
	if client != nil {
		p.client = client
	}
	return p
}

// Publish sends e on its run channel.
func (p *Publisher) Publish(ctx context.Context, e Event) {
	if p == nil || p.client == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		p.log.Warn("marshal event", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, Channel(e.RunID), raw).Err(); err != nil {
		p.log.Warn("publish event failed", zap.String("run_id", e.RunID), zap.String("kind", e.Kind), zap.Error(err))
	}
}

// Subscriber tails run events.
type Subscriber struct {
	client *redis.Client
	log    *zap.Logger
}

// NewSubscriber creates a subscriber.
func NewSubscriber(client *redis.Client, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{client: client, log: log}
}

// Subscribe returns a channel of events for runID. The channel closes when ctx
// is done or the subscription drops.
func (s *Subscriber) Subscribe(ctx context.Context, runID string) (<-chan Event, error) {
	ps := s.client.Subscribe(ctx, Channel(runID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", runID, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				e, err := Decode(msg.Payload)
				if err != nil {
					s.log.Warn("invalid event payload", zap.String("run_id", runID), zap.Error(err))
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Decode parses a published event.
func Decode(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}
