package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// request/DB queue keys. Fixed by convention with the API gateway and the
// DB writer; not configurable per-instance.
const (
	requestQueueKey = "exchange:requests"
	dbQueueKey      = "exchange:db_records"
)

// RedisBus is the production Bus backed by three separate Redis
// connections: one per logical channel (orders, fan-out, DB writer), each
// constructed explicitly rather than shared through a process-wide
// singleton.
type RedisBus struct {
	orders   *redis.Client
	fanout   *redis.Client
	dbWriter *redis.Client
}

// NewRedisBus dials the three Redis connections from their URLs and pings
// each before returning.
func NewRedisBus(ctx context.Context, ordersURL, fanoutURL, dbWriterURL string) (*RedisBus, error) {
	orders, err := dialAndPing(ctx, ordersURL)
	if err != nil {
		return nil, fmt.Errorf("connect orders bus: %w", err)
	}
	fanout, err := dialAndPing(ctx, fanoutURL)
	if err != nil {
		return nil, fmt.Errorf("connect fanout bus: %w", err)
	}
	dbWriter, err := dialAndPing(ctx, dbWriterURL)
	if err != nil {
		return nil, fmt.Errorf("connect db-writer bus: %w", err)
	}
	return &RedisBus{orders: orders, fanout: fanout, dbWriter: dbWriter}, nil
}

func dialAndPing(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}

// PopRequest blocking-pops the next request envelope off the request list.
func (b *RedisBus) PopRequest(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := b.orders.BRPop(ctx, timeout, requestQueueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop %s: %w", requestQueueKey, err)
	}
	// BRPop returns [key, value]; we only ever pop one key.
	if len(res) != 2 {
		return nil, fmt.Errorf("brpop %s: unexpected reply shape", requestQueueKey)
	}
	return []byte(res[1]), nil
}

// PublishReply publishes payload on the reply channel named clientID.
func (b *RedisBus) PublishReply(ctx context.Context, clientID string, payload []byte) error {
	if err := b.fanout.Publish(ctx, clientID, payload).Err(); err != nil {
		return fmt.Errorf("publish reply %s: %w", clientID, err)
	}
	return nil
}

// PublishStream publishes payload on a trade@<market> or depth@<market>
// broadcast channel.
func (b *RedisBus) PublishStream(ctx context.Context, channel string, payload []byte) error {
	if err := b.fanout.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish stream %s: %w", channel, err)
	}
	return nil
}

// PushDBRecord left-pushes payload onto the DB writer's queue.
func (b *RedisBus) PushDBRecord(ctx context.Context, payload []byte) error {
	if err := b.dbWriter.LPush(ctx, dbQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", dbQueueKey, err)
	}
	return nil
}

// Close closes all three underlying connections.
func (b *RedisBus) Close() error {
	var firstErr error
	for _, c := range []*redis.Client{b.orders, b.fanout, b.dbWriter} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
