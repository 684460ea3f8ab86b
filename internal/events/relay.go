package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"asyncgen/internal/domain"
	"asyncgen/internal/infra"
)

// DefaultRelayChannel is the Redis pub/sub channel progress events travel on.
const DefaultRelayChannel = "asyncgen:progress"

const relayBuffer = 1024

type relayEnvelope struct {
	Origin string               `json:"origin"`
	Event  domain.ProgressEvent `json:"event"`
}

// RedisRelay shares one logical event stream between processes. Events
// published through the relay reach the local Publisher immediately and are
// mirrored to Redis; events from other processes are re-published locally.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	local   *Publisher
	logger  *infra.Logger
	out     chan domain.ProgressEvent
}

// NewRedisRelay binds local to a Redis channel. An empty channel uses
// DefaultRelayChannel.
func NewRedisRelay(client *redis.Client, channel string, local *Publisher, logger *infra.Logger) (*RedisRelay, error) {
	if client == nil {
		return nil, errors.New("events: redis client is required")
	}
	if local == nil {
		return nil, errors.New("events: local publisher is required")
	}
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = local.logger
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		logger:  logger,
		out:     make(chan domain.ProgressEvent, relayBuffer),
	}, nil
}

// Publish delivers ev locally and queues it for Redis. It never blocks on
// the network; when the outbound queue is full the remote copy is dropped.
func (r *RedisRelay) Publish(ev domain.ProgressEvent) {
	r.local.Publish(ev)
	select {
	case r.out <- ev:
	default:
		r.local.dropped.Add(1)
		r.logger.Warn().Str("job_id", ev.JobID).Msg("events: relay queue full; event not mirrored")
	}
}

// Run forwards queued events to Redis and re-publishes remote events until
// ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", r.channel, err)
	}
	incoming := sub.Channel()

	r.logger.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("events: redis relay started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.out:
			r.forward(ctx, ev)
		case msg, ok := <-incoming:
			if !ok {
				return errors.New("events: redis subscription closed")
			}
			r.receive(msg.Payload)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, ev domain.ProgressEvent) {
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", ev.JobID).Msg("events: encode relay event")
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("events: redis publish failed")
	}
}

func (r *RedisRelay) receive(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn().Err(err).Msg("events: malformed relay message")
		return
	}
	if env.Origin == r.origin || env.Event.JobID == "" {
		return
	}
	r.local.Publish(env.Event)
}
