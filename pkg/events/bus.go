// Package events carries wake-up notifications between replicas over redis
// pub/sub. Events are hints: every consumer also polls the job store, so a
// lost message only delays work until the next tick.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind names an event.
type Kind string

const (
	// PairsQueued is published after a submission's ready flip.
	PairsQueued Kind = "pairs_queued"
	// JobCompleted is published after a job is finalised.
	JobCompleted Kind = "job_completed"
)

// Event is the payload published on the bus channel.
type Event struct {
	Kind Kind   `json:"kind"`
	Job  string `json:"job"`
}

// Bus publishes and subscribes to engine events. A nil *Bus, or one built
// without a redis client, publishes nothing and never delivers.
type Bus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewBus creates a bus on channel. client may be nil.
func NewBus(client *redis.Client, channel string, logger *zap.Logger) *Bus {
	return &Bus{
		client:  client,
		channel: channel,
		logger:  logger.Named("event-bus"),
	}
}

// Enabled reports whether events are actually delivered.
func (b *Bus) Enabled() bool {
	return b != nil && b.client != nil
}

// Publish sends an event. Failures are returned but callers are expected to
// log and continue.
func (b *Bus) Publish(ctx context.Context, kind Kind, job string) error {
	if !b.Enabled() {
		return nil
	}
	raw, err := json.Marshal(Event{Kind: kind, Job: job})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	return nil
}

// Subscribe delivers events of the given kinds (all kinds when none are
// given) until ctx is done. On a disabled bus, or if the subscription cannot
// be established, the returned channel is nil and so never becomes ready.
func (b *Bus) Subscribe(ctx context.Context, kinds ...Kind) <-chan Event {
	if !b.Enabled() {
		return nil
	}

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		b.logger.Warn("Event subscription failed, falling back to polling", zap.Error(err))
		return nil
	}

	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.logger.Warn("Ignoring malformed event", zap.Error(err))
					continue
				}
				if len(want) > 0 && !want[ev.Kind] {
					continue
				}
				// Wake-ups coalesce; drop rather than block the subscriber.
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out
}
