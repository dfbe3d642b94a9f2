package devicebus

import (
	"context"
	"encoding/json"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"github.com/slotworks/vendo/internal/config"
	"go.uber.org/zap"
)

// RedisBus carries the device channel over redis pub/sub. Topics keep the
// vm/{machine_id}/{type} shape; subscriptions use pattern subscribe so one
// consumer covers every machine.
type RedisBus struct {
	client *redis.Client
	log    *zap.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
	wg   sync.WaitGroup
}

func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewRedisBus(client *redis.Client, log *zap.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		log:    log.Named("devicebus"),
	}
}

func (b *RedisBus) Publish(ctx context.Context, machineID string, t MessageType, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Topic(machineID, t), payload).Err(); err != nil {
		b.log.Error("publish failed",
			zap.String("machine_id", machineID),
			zap.String("type", string(t)),
			zap.Error(err),
		)
		return ErrUnavailable
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, t MessageType, h Handler) error {
	sub := b.client.PSubscribe(ctx, Pattern(t))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return ErrUnavailable
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				machineID, ok := MachineFromTopic(msg.Channel)
				if !ok {
					b.log.Warn("message on malformed topic", zap.String("topic", msg.Channel))
					continue
				}
				h(ctx, machineID, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	b.wg.Wait()
	return nil
}
