package intent

import (
	"context"
	"log/slog"
	"sync"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/pkg/logger"
)

// MemoryQueue 是进程内的意图队列。同一意图在被取走之前只会排队一次，
// 监控进程重复上报同一笔转账时不会产生重复执行。
type MemoryQueue struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool

	queuedMu sync.Mutex
	queued   map[string]struct{}
}

// NewMemoryQueue 创建容量为 size 的队列，size 非正时取 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), queued: make(map[string]struct{})}
}

// Publish 排入一个意图 ID。已在队列中的 ID 直接返回。
func (q *MemoryQueue) Publish(ctx context.Context, intentID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "意图队列已关闭")
	}
	if !q.mark(intentID) {
		return nil
	}
	select {
	case <-ctx.Done():
		q.unmark(intentID)
		return ctx.Err()
	case q.ch <- intentID:
		return nil
	}
}

// Consume 启动 workerCount 个执行协程，直到 ctx 结束或队列关闭。
// 处理器返回的错误只记录日志，重试由处理器自行重新排队。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
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
				case intentID, ok := <-q.ch:
					if !ok {
						return
					}
					q.unmark(intentID)
					if err := handler(ctx, intentID); err != nil {
						logger.L().Warn("处理交易意图出错", slog.String("intent_id", intentID), slog.Any("error", err))
					}
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Len 返回排队中的意图数。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close 关闭队列，之后的 Publish 返回 QUEUE_FAILURE。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}

func (q *MemoryQueue) mark(intentID string) bool {
	q.queuedMu.Lock()
	defer q.queuedMu.Unlock()
	if _, ok := q.queued[intentID]; ok {
		return false
	}
	q.queued[intentID] = struct{}{}
	return true
}

func (q *MemoryQueue) unmark(intentID string) {
	q.queuedMu.Lock()
	delete(q.queued, intentID)
	q.queuedMu.Unlock()
}
