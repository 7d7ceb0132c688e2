package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrWriterClosed 表示 Writer 已关闭，不再接受新的后台任务。
var ErrWriterClosed = errors.New("cache writer closed")

// Task 是一次后台持久化工作。返回的错误只记录日志，不会传播给任何请求。
type Task func(ctx context.Context) error

// WriterStats 是 Writer 的计数快照，供 /-/status 诊断输出。
type WriterStats struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Writer 在请求生命周期之外执行缓存写入：响应返回后任务仍会跑完，
// 只有进程退出时才会放弃。并发度由 errgroup 的 SetLimit 约束，达到上限时 Go 会阻塞调用方。
type Writer struct {
	group  *errgroup.Group
	logger *logrus.Logger

	mu     sync.RWMutex
	closed bool

	pending   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWriter 创建后台写入器；workers <= 0 时不限制并发。
func NewWriter(workers int, logger *logrus.Logger) *Writer {
	group := new(errgroup.Group)
	if workers > 0 {
		group.SetLimit(workers)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Writer{group: group, logger: logger}
}

// Go 调度一个脱离请求上下文的任务。fields 会附加到失败日志上。
func (w *Writer) Go(fields logrus.Fields, task Task) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	w.pending.Add(1)
	w.group.Go(func() error {
		defer w.pending.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				w.failed.Add(1)
				w.logger.WithFields(fields).WithField("panic", r).Error("persist_panic")
			}
		}()

		if err := task(context.Background()); err != nil {
			w.failed.Add(1)
			w.logger.WithFields(fields).WithError(err).Error("persist_failed")
			return nil
		}
		w.completed.Add(1)
		return nil
	})
	return nil
}

// Flush 等待当前所有任务完成，Writer 仍可继续使用。调用方需保证 Flush 期间没有并发的 Go。
func (w *Writer) Flush() {
	_ = w.group.Wait()
}

// Close 拒绝新任务并等待已调度的任务全部完成。
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	_ = w.group.Wait()
}

// Stats 返回计数快照。
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Pending:   w.pending.Load(),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
	}
}
