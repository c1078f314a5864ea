package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream key suffix used when none is configured.
const DefaultStream = "envelopes"

// RedisStore is an EnvelopeStore backed by a Redis stream:
//
//	<prefix><stream>  => XADD entries {id, stage, command, ts, payload}
//
// Stream entry ids preserve append order. With MaxLen set the stream is
// trimmed approximately on every append.
type RedisStore struct {
	client *redis.Client
	key    string
	maxLen int64
}

var _ EnvelopeStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. It takes ownership of client.
// prefix defaults to "stagehand:".
func NewRedisStore(client *redis.Client, prefix, stream string, maxLen int64) *RedisStore {
	if prefix == "" {
		prefix = "stagehand:"
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStore{
		client: client,
		key:    prefix + stream,
		maxLen: maxLen,
	}
}

// OpenRedis connects to addr ("host:port") and checks the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix, stream string, maxLen int64) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", addr, err)
	}
	return NewRedisStore(client, prefix, stream, maxLen), nil
}

// Key is the stream key.
func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	payload, err := EncodeEnvelope(rec.Envelope)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{
			"id":      rec.ID,
			"stage":   rec.Stage,
			"command": rec.Command,
			"ts":      rec.Timestamp.UnixNano(),
			"payload": payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}

func (s *RedisStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	entries, err := s.client.XRange(ctx, s.key, "-", "+").Result()
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, entry := range entries {
		rec, err := decodeRedisEntry(entry)
		if err != nil {
			return nil, err
		}
		if !filter.match(rec) {
			continue
		}
		records = append(records, rec)
		if filter.Limit > 0 && len(records) == filter.Limit {
			break
		}
	}
	return records, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRedisEntry(entry redis.XMessage) (Record, error) {
	field := func(name string) string {
		v, _ := entry.Values[name].(string)
		return v
	}

	ns, err := strconv.ParseInt(field("ts"), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("stream entry %s: bad ts: %w", entry.ID, err)
	}
	msg, err := DecodeEnvelope([]byte(field("payload")))
	if err != nil {
		return Record{}, fmt.Errorf("stream entry %s: %w", entry.ID, err)
	}

	return Record{
		ID:        field("id"),
		Stage:     field("stage"),
		Command:   field("command"),
		Timestamp: time.Unix(0, ns).UTC(),
		Envelope:  msg,
	}, nil
}
