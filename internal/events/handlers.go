package events

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/oshokin/drowsy-alarm/internal/logger"
	"github.com/oshokin/drowsy-alarm/internal/repository/journal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LogHandler writes events to the application log.
type LogHandler struct{}

// Name implements Handler.
func (LogHandler) Name() string { return "log" }

// Handle implements Handler.
func (LogHandler) Handle(ctx context.Context, event Event) error {
	p := toPayload(event)

	var closedFor time.Duration
	if event.Incident != nil {
		closedFor = event.Incident.Duration()
	}

	switch event.Kind {
	case KindAlarmFired:
		logger.WarnKV(ctx, "Drowsiness alarm fired",
			"incident_id", p.IncidentID,
			"closed_at", p.ClosedAt,
		)
	default:
		logger.InfoKV(ctx, "Drowsiness alarm recovered",
			"incident_id", p.IncidentID,
			"outcome", p.Outcome,
			"closed_for", closedFor.String(),
		)
	}

	return nil
}

// JournalHandler appends closed incidents to the journal.
type JournalHandler struct {
	repo journal.Repository
}

// NewJournalHandler wraps a journal repository.
func NewJournalHandler(repo journal.Repository) *JournalHandler {
	return &JournalHandler{repo: repo}
}

// Name implements Handler.
func (*JournalHandler) Name() string { return "journal" }

// Handle records the incident once it is closed.
func (h *JournalHandler) Handle(ctx context.Context, event Event) error {
	if event.Kind != KindAlarmRecovered || event.Incident == nil {
		return nil
	}

	if err := h.repo.Append(ctx, event.Incident); err != nil {
		return fmt.Errorf("append incident: %w", err)
	}

	return nil
}

// Publisher is the part of the Redis client used for publication.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisHandler publishes events as JSON to a Redis channel.
type RedisHandler struct {
	publisher Publisher
	channel   string
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// NewRedisClient connects to Redis and checks the connection.
// The client is returned even when the ping fails so publication can recover
// once the server comes up.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, DefaultHandleTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("ping redis %s: %w", opts.Address, err)
	}

	return client, nil
}

// NewRedisHandler publishes to channel through publisher.
func NewRedisHandler(publisher Publisher, channel string) *RedisHandler {
	return &RedisHandler{
		publisher: publisher,
		channel:   channel,
	}
}

// Name implements Handler.
func (*RedisHandler) Name() string { return "redis" }

// Handle implements Handler.
func (h *RedisHandler) Handle(ctx context.Context, event Event) error {
	data, err := json.Marshal(toPayload(event))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err = h.publisher.Publish(ctx, h.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", h.channel, err)
	}

	return nil
}
