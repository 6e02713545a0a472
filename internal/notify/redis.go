package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisStream appends events to a Redis stream for downstream delivery workers.
type RedisStream struct {
	client *redis.Client
	stream string
}

func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	return &RedisStream{client: client, stream: stream}
}

func (r *RedisStream) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"kind":      ev.Kind,
			"data":      string(data),
			"timestamp": ev.At.Unix(),
		},
	}).Err()
}
