// Package notify delivers settlement events to log, redis pub/sub, or both.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/warp/teller-settlement/settlement"
)

// LogPublisher writes every event to the structured log.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: log.With().Str("component", "notify").Logger()}
}

func (p *LogPublisher) Notify(_ context.Context, e settlement.Event) error {
	p.logger.Info().
		Str("event", string(e.Type)).
		Str("agent_id", e.AgentID).
		Str("record_id", e.RecordID).
		Str("day", string(e.Day)).
		Msg("event")
	return nil
}

// RedisPublisher publishes events as JSON on a redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Notify(ctx context.Context, e settlement.Event) error {
	if p.client == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Fanout delivers to every publisher and joins their errors.
type Fanout []settlement.Notifier

func (f Fanout) Notify(ctx context.Context, e settlement.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
