package intent

import (
	"context"
	"strings"
	"time"

	"VelocityVault/internal/config"
	xerrors "VelocityVault/internal/errors"
)

// Handler 处理来自队列的意图 ID。
type Handler func(ctx context.Context, intentID string) error

// Producer 负责向队列投递意图。
type Producer interface {
	Publish(ctx context.Context, intentID string) error
	Close() error
}

// Consumer 负责从队列中消费意图。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// NewQueue 根据配置创建 memory、redis 或 rabbitmq 队列。
func NewQueue(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return NewRedisQueue(ctx, RedisQueueConfig{URL: cfg.RedisURL, Key: cfg.RedisKey, BlockWait: 5 * time.Second})
	case "rabbitmq", "amqp":
		return NewRabbitMQQueue(RabbitMQConfig{URL: cfg.AMQPURL, Queue: cfg.QueueName, Prefetch: cfg.Buffer, Durable: true})
	default:
		return nil, xerrors.Newf(xerrors.CodeValidation, "不支持的队列驱动: %s", cfg.Driver)
	}
}
