package intent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/pkg/logger"
)

const (
	defaultIntentQueue = "velocityvault.intents"
	intentMessageType  = "trade_intent"
	intentIDHeader     = "x-intent-id"
	intentAppID        = "velocityvault"
	intentConsumerTag  = "velocityvault-agent"
)

// RabbitMQConfig 描述 RabbitMQ 意图队列。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 以持久化消息投递意图。每条消息的 MessageId 与 x-intent-id 头都是意图 ID，
// 消费端按这两项识别意图，消息体只作兼容。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	now   func() time.Time
}

// NewRabbitMQQueue 连接 broker 并声明意图队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "意图队列缺少 AMQP URL")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = defaultIntentQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	fail := func(err error, msg string) (*RabbitMQQueue, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, msg)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fail(err, "设置意图预取数量失败")
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return fail(err, "声明意图队列失败")
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue, now: time.Now}, nil
}

// Publish 投递一条意图消息。
func (q *RabbitMQQueue) Publish(ctx context.Context, intentID string) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "意图队列未初始化")
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, intentMessage(intentID, q.now())); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递意图消息失败")
	}
	return nil
}

// Consume 手动确认消费。无法识别的消息直接丢弃，处理失败的消息重新入队。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "意图队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.ConsumeWithContext(ctx, q.queue, intentConsumerTag, false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅意图队列失败")
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					q.deliver(ctx, msg, handler)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, msg amqp.Delivery, handler Handler) {
	intentID, ok := deliveryIntentID(msg)
	if !ok {
		logger.L().Warn("丢弃无法识别的意图消息",
			slog.String("type", msg.Type),
			slog.String("message_id", msg.MessageId))
		_ = msg.Reject(false)
		return
	}
	if msg.Redelivered {
		logger.L().Info("意图消息重新投递", slog.String("intent_id", intentID))
	}
	if err := handler(ctx, intentID); err != nil {
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func intentMessage(intentID string, at time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    intentID,
		Type:         intentMessageType,
		AppId:        intentAppID,
		Timestamp:    at.UTC(),
		Headers:      amqp.Table{intentIDHeader: intentID},
		Body:         []byte(intentID),
	}
}

// deliveryIntentID 依次取 MessageId、x-intent-id 头与消息体。带有其他 Type 的消息不属于意图队列。
func deliveryIntentID(msg amqp.Delivery) (string, bool) {
	if msg.Type != "" && msg.Type != intentMessageType {
		return "", false
	}
	if id := strings.TrimSpace(msg.MessageId); id != "" {
		return id, true
	}
	if raw, ok := msg.Headers[intentIDHeader].(string); ok && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw), true
	}
	if id := strings.TrimSpace(string(msg.Body)); id != "" {
		return id, true
	}
	return "", false
}
