package outcome

import (
	"context"
	"sync"

	xerrors "SonicPilot/internal/errors"
)

// MemoryQueue 使用 channel 缓存事件，适合单机部署与测试。
type MemoryQueue struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Event, size)}
}

// Publish 投递事件，缓冲区已满时丢弃最旧的一条。
func (q *MemoryQueue) Publish(ctx context.Context, event Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return xerrors.New(xerrors.CodePublishFailure, "事件队列已关闭")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		select {
		case q.ch <- event:
			return nil
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

// Consume 逐条处理事件直到 ctx 取消或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-q.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, event)
		}
	}
}

// Drain 取出当前缓冲中的全部事件。
func (q *MemoryQueue) Drain() []Event {
	var events []Event
	for {
		select {
		case event, ok := <-q.ch:
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
