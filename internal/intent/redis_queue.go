package intent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/pkg/logger"
)

const defaultRedisIntentKey = "velocityvault:intents"

// RedisQueueConfig 描述 Redis 意图队列。
type RedisQueueConfig struct {
	URL       string
	Key       string
	BlockWait time.Duration
}

// RedisQueue 把待执行的意图 ID 存在 Redis list 中。
// 取出的 ID 原子地移入 <key>:processing，处理结束后才删除，进程崩溃时下次消费前会放回待执行列表。
type RedisQueue struct {
	client     *redis.Client
	key        string
	processing string
	wait       time.Duration
}

// NewRedisQueue 解析 redis:// URL 并 PING 一次。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "意图队列缺少 Redis URL")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "解析 Redis URL 失败")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return NewRedisQueueWithClient(client, cfg.Key, cfg.BlockWait), nil
}

// NewRedisQueueWithClient 基于已有客户端构造队列。
func NewRedisQueueWithClient(client *redis.Client, key string, wait time.Duration) *RedisQueue {
	if key == "" {
		key = defaultRedisIntentKey
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, processing: key + ":processing", wait: wait}
}

// Publish 把意图 ID 放到待执行列表的队首（LPUSH），消费端从队尾取。
func (q *RedisQueue) Publish(ctx context.Context, intentID string) error {
	if err := q.client.LPush(ctx, q.key, intentID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "意图写入 Redis 失败")
	}
	return nil
}

// Consume 先归还上次遗留在 processing 列表中的意图，再用 BLMOVE 取意图。
// 处理失败的意图从 processing 移除后重新排到队首。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	if err := q.requeueStranded(ctx); err != nil {
		return err
	}

	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				intentID, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.wait).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "从 Redis 取意图失败")
					return
				}
				handlerErr := handler(ctx, intentID)
				if err := q.finish(context.WithoutCancel(ctx), intentID, handlerErr != nil); err != nil {
					logger.L().Warn("归档 Redis 意图失败", slog.String("intent_id", intentID), slog.Any("error", err))
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// finish 在一个事务内把意图移出 processing，失败时同时放回待执行列表。
func (q *RedisQueue) finish(ctx context.Context, intentID string, failed bool) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, intentID)
		if failed {
			pipe.LPush(ctx, q.key, intentID)
		}
		return nil
	})
	return err
}

func (q *RedisQueue) requeueStranded(ctx context.Context) error {
	for {
		intentID, err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "归还遗留意图失败")
		}
		logger.L().Info("归还上次未完成的意图", slog.String("intent_id", intentID))
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
