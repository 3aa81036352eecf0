package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/google/uuid"
)

// RedisQueueConfig configures the Redis Streams view queue.
type RedisQueueConfig struct {
	Addr         string
	Username     string
	Password     string
	Stream       string
	Group        string
	BlockTimeout time.Duration
	Buffer       int
	Logger       *slog.Logger
}

// NewRedisQueue builds a view-event queue on a Redis stream with a consumer
// group, so events survive a recorder restart.
func NewRedisQueue(cfg RedisQueueConfig) (Queue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "portfolio:views"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "view-recorders"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Username:   strings.TrimSpace(cfg.Username),
		Password:   cfg.Password,
		MaxRetries: 2,
	})
	queue := &redisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		blockTimeout: cfg.BlockTimeout,
		buffer:       cfg.Buffer,
		logger:       logger,
	}
	if err := queue.ensureGroup(context.Background()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return queue, nil
}

type redisQueue struct {
	client       *redis.Client
	stream       string
	group        string
	blockTimeout time.Duration
	buffer       int
	logger       *slog.Logger
}

func (q *redisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *redisQueue) Publish(ctx context.Context, event ViewEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal view event: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
}

func (q *redisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		queue:    q,
		consumer: "recorder-" + uuid.NewString(),
		cancel:   cancel,
		ch:       make(chan ViewEvent, q.buffer),
	}
	go sub.run(ctx)
	return sub
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}

type redisSubscription struct {
	queue    *redisQueue
	consumer string
	cancel   context.CancelFunc
	ch       chan ViewEvent
}

func (s *redisSubscription) Events() <-chan ViewEvent { return s.ch }

func (s *redisSubscription) Close() {
	s.cancel()
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		streams, err := s.queue.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.queue.group,
			Consumer: s.consumer,
			Streams:  []string{s.queue.stream, ">"},
			Count:    32,
			Block:    s.queue.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			s.queue.logger.Warn("view queue read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, stream := range streams {
			for _, message := range stream.Messages {
				event, ok := decodeViewMessage(message)
				if !ok {
					s.ack(ctx, message.ID)
					continue
				}
				select {
				case s.ch <- event:
					s.ack(ctx, message.ID)
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *redisSubscription) ack(ctx context.Context, id string) {
	if err := s.queue.client.XAck(ctx, s.queue.stream, s.queue.group, id).Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.queue.logger.Warn("view queue ack failed", "id", id, "error", err)
	}
}

func decodeViewMessage(message redis.XMessage) (ViewEvent, bool) {
	raw, ok := message.Values["payload"].(string)
	if !ok || raw == "" {
		return ViewEvent{}, false
	}
	var event ViewEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return ViewEvent{}, false
	}
	return event, true
}
