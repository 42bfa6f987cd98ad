package queue

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/example/adr/internal/config"
)

const noQueueReply = "NOQUEUE"

// All scripts take KEYS = {queues set, pending list, claims hash, visibility zset}
// and reject unknown queue names with noQueueReply.
var (
	sendScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return redis.error_reply('NOQUEUE')
end
return redis.call('LPUSH', KEYS[2], ARGV[2])
`)

	receiveScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return redis.error_reply('NOQUEUE')
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', ARGV[2])
for _, receipt in ipairs(expired) do
  local payload = redis.call('HGET', KEYS[3], receipt)
  if payload then
    redis.call('RPUSH', KEYS[2], payload)
  end
  redis.call('HDEL', KEYS[3], receipt)
  redis.call('ZREM', KEYS[4], receipt)
end
local payload = redis.call('RPOP', KEYS[2])
if not payload then
  return false
end
redis.call('HSET', KEYS[3], ARGV[4], payload)
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[4])
return payload
`)

	deleteScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return redis.error_reply('NOQUEUE')
end
redis.call('ZREM', KEYS[4], ARGV[2])
return redis.call('HDEL', KEYS[3], ARGV[2])
`)

	releaseScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return redis.error_reply('NOQUEUE')
end
local payload = redis.call('HGET', KEYS[3], ARGV[2])
if payload then
  redis.call('LPUSH', KEYS[2], payload)
end
redis.call('ZREM', KEYS[4], ARGV[2])
return redis.call('HDEL', KEYS[3], ARGV[2])
`)
)

// RedisBroker keeps each queue in three keys: a pending list consumed from the
// right, a hash of claimed payloads by receipt and a sorted set of claim
// deadlines. Expired claims are pushed back on the next receive.
type RedisBroker struct {
	client     *redis.Client
	prefix     string
	visibility time.Duration
	clock      clockwork.Clock
}

func NewRedisBroker(ctx context.Context, cfg config.QueueConfig) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisBroker(client, cfg.Prefix, cfg.VisibilityTimeout, clockwork.NewRealClock()), nil
}

func newRedisBroker(client *redis.Client, prefix string, visibility time.Duration, clock clockwork.Clock) *RedisBroker {
	if prefix == "" {
		prefix = "adr"
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &RedisBroker{client: client, prefix: prefix, visibility: visibility, clock: clock}
}

func (b *RedisBroker) queuesKey() string { return b.prefix + ":queues" }

func (b *RedisBroker) keys(queue string) []string {
	base := b.prefix + ":queue:" + queue
	return []string{b.queuesKey(), base + ":pending", base + ":claims", base + ":visible"}
}

func (b *RedisBroker) CreateQueue(ctx context.Context, name string) error {
	return b.client.SAdd(ctx, b.queuesKey(), name).Err()
}

func (b *RedisBroker) DeleteQueue(ctx context.Context, name string) error {
	removed, err := b.client.SRem(ctx, b.queuesKey(), name).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return &QueueNotFoundError{Name: name}
	}
	return b.client.Del(ctx, b.keys(name)[1:]...).Err()
}

func (b *RedisBroker) Queues(ctx context.Context) ([]string, error) {
	names, err := b.client.SMembers(ctx, b.queuesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (b *RedisBroker) Send(ctx context.Context, queue, body string, attrs map[string]string) (string, error) {
	msg := Message{ID: uuid.NewString(), Body: body, Attributes: cloneAttrs(attrs), SentAt: b.clock.Now().UTC()}
	raw, err := encodeMessage(msg)
	if err != nil {
		return "", err
	}
	if err := sendScript.Run(ctx, b.client, b.keys(queue), queue, raw).Err(); err != nil {
		return "", b.wrap(queue, err)
	}
	return msg.ID, nil
}

func (b *RedisBroker) Receive(ctx context.Context, queue string) (*Delivery, error) {
	now := b.clock.Now()
	receipt := uuid.NewString()
	raw, err := receiveScript.Run(ctx, b.client, b.keys(queue),
		queue,
		now.UnixMilli(),
		now.Add(b.visibility).UnixMilli(),
		receipt,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, b.wrap(queue, err)
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		// Undecodable payloads surface as their raw text, which never equals Marker.
		return &Delivery{Message: Message{Body: raw}, Receipt: receipt}, nil
	}
	return &Delivery{Message: msg, Receipt: receipt}, nil
}

func (b *RedisBroker) Delete(ctx context.Context, queue, receipt string) error {
	return b.wrap(queue, deleteScript.Run(ctx, b.client, b.keys(queue), queue, receipt).Err())
}

func (b *RedisBroker) Release(ctx context.Context, queue, receipt string) error {
	return b.wrap(queue, releaseScript.Run(ctx, b.client, b.keys(queue), queue, receipt).Err())
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func (b *RedisBroker) wrap(queue string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), noQueueReply) {
		return &QueueNotFoundError{Name: queue}
	}
	return err
}
