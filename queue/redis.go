package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/stairway/pkg/logger"
)

const (
	defaultStream        = "stairway:ready"
	defaultConsumerGroup = "stairway"
	bodyField            = "body"

	// Pending entries idle longer than this are reclaimed from consumers
	// that died without acking.
	staleClaimAge = 30 * time.Second

	readBlock = 500 * time.Millisecond
)

// RedisTransport is the production Transport: one Redis stream with a
// consumer group, so each engine instance sees each message once and
// un-acked messages from dead instances get reclaimed.
type RedisTransport struct {
	client   *goredis.Client
	log      *logger.Logger
	stream   string
	group    string
	consumer string
}

type RedisTransportConfig struct {
	// Addr is the Redis host:port. Ignored when Client is set.
	Addr     string
	Password string
	DB       int
	// Client overrides Addr with a caller-owned connection.
	Client *goredis.Client

	// Stream and Group default to the engine-wide names; override only when
	// several engine fleets share one Redis.
	Stream string
	Group  string
	// Consumer identifies this instance within the group.
	Consumer string

	Logger *logger.Logger
}

func NewRedisTransport(ctx context.Context, cfg RedisTransportConfig) (*RedisTransport, error) {
	client := cfg.Client
	if client == nil {
		client = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	t := &RedisTransport{
		client:   client,
		log:      log.With("component", "RedisTransport"),
		stream:   defaultString(cfg.Stream, defaultStream),
		group:    defaultString(cfg.Group, defaultConsumerGroup),
		consumer: defaultString(cfg.Consumer, "stairway-consumer"),
	}
	if err := t.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func (t *RedisTransport) ensureGroup(ctx context.Context) error {
	err := t.client.XGroupCreateMkStream(ctx, t.stream, t.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", t.group, t.stream, err)
	}
	return nil
}

func (t *RedisTransport) Enqueue(ctx context.Context, body string) error {
	err := t.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: t.stream,
		Values: map[string]any{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", t.stream, err)
	}
	return nil
}

// Dequeue first reclaims messages stuck pending on dead consumers, then
// reads fresh entries, blocking briefly when the stream is empty.
func (t *RedisTransport) Dequeue(ctx context.Context, max int) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	claimed, _, err := t.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   t.stream,
		Group:    t.group,
		Consumer: t.consumer,
		MinIdle:  staleClaimAge,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("autoclaim from %s: %w", t.stream, err)
	}
	if len(claimed) > 0 {
		t.log.Info("reclaimed stale queue messages", "count", len(claimed))
		return t.wrap(claimed), nil
	}

	streams, err := t.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    t.group,
		Consumer: t.consumer,
		Streams:  []string{t.stream, ">"},
		Count:    int64(max),
		Block:    readBlock,
	}).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", t.stream, err)
	}
	var entries []goredis.XMessage
	for _, s := range streams {
		entries = append(entries, s.Messages...)
	}
	return t.wrap(entries), nil
}

func (t *RedisTransport) wrap(entries []goredis.XMessage) []*Message {
	out := make([]*Message, 0, len(entries))
	for _, e := range entries {
		body, _ := e.Values[bodyField].(string)
		id := e.ID
		out = append(out, &Message{
			ID:   id,
			Body: body,
			ack: func(ctx context.Context, processed bool) error {
				// Redelivery for unprocessed messages rides the pending
				// entries list: not acking leaves the entry claimable.
				if !processed {
					return nil
				}
				if err := t.client.XAck(ctx, t.stream, t.group, id).Err(); err != nil {
					return fmt.Errorf("ack %s: %w", id, err)
				}
				return t.client.XDel(ctx, t.stream, id).Err()
			},
		})
	}
	return out
}

func (t *RedisTransport) Purge(ctx context.Context) error {
	if err := t.client.XGroupDestroy(ctx, t.stream, t.group).Err(); err != nil && err != goredis.Nil {
		t.log.Warn("destroying consumer group during purge", "error", err)
	}
	if err := t.client.Del(ctx, t.stream).Err(); err != nil {
		return fmt.Errorf("purge %s: %w", t.stream, err)
	}
	return t.ensureGroup(ctx)
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}
