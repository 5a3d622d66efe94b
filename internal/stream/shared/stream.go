package shared

import (
	"io"
	"sync/atomic"

	"github.com/google/uuid"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
)

const (
	opRead  = "read"
	opWrite = "write"
	opFlush = "flush"
	opDo    = "do"
)

// Flusher 可刷新的流，底层流实现时 Flush 会委托给它
type Flusher interface {
	Flush() error
}

// storage 所有句柄共享的存储，stream 只在持有 mu 时访问
type storage[T io.ReadWriter] struct {
	mu       mutex
	stream   T
	poisoned atomic.Bool // 只在持有 mu 时置位
	refs     atomic.Int64
	id       string
	logger   corelog.Logger
}

// Stream 共享流句柄
type Stream[T io.ReadWriter] struct {
	st       *storage[T]
	released atomic.Bool
}

var (
	_ io.ReadWriteCloser = (*Stream[io.ReadWriter])(nil)
	_ Flusher            = (*Stream[io.ReadWriter])(nil)
)

// Wrap 接管 stream 并返回第一个句柄，不做任何 I/O
func Wrap[T io.ReadWriter](stream T, opts ...Option) *Stream[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = corelog.Default()
	}

	st := &storage[T]{
		stream: stream,
		id:     o.id,
		logger: o.logger.WithField("stream_id", o.id),
	}
	st.refs.Store(1)
	statWrapped.Inc()

	return &Stream[T]{st: st}
}

// Clone 返回指向同一存储的新句柄，只增加引用计数，不加流锁
// 对已关闭的句柄 Clone 得到的也是已关闭句柄
func (h *Stream[T]) Clone() *Stream[T] {
	c := &Stream[T]{st: h.st}
	if h.released.Load() || !h.st.acquire() {
		c.released.Store(true)
		return c
	}
	statCloned.Inc()
	return c
}

// Read 持锁读取，结果和错误原样返回
func (h *Stream[T]) Read(p []byte) (int, error) {
	st, err := h.lock(opRead)
	if err != nil {
		return 0, err
	}
	ok := false
	defer st.unlock(&ok)

	n, err := st.stream.Read(p)
	ok = true
	return n, err
}

// Write 持锁写入，可能短写，由调用方重试剩余部分
func (h *Stream[T]) Write(p []byte) (int, error) {
	st, err := h.lock(opWrite)
	if err != nil {
		return 0, err
	}
	ok := false
	defer st.unlock(&ok)

	n, err := st.stream.Write(p)
	ok = true
	return n, err
}

// Flush 持锁刷新；底层流未实现 Flusher 时为空操作
func (h *Stream[T]) Flush() error {
	st, err := h.lock(opFlush)
	if err != nil {
		return err
	}
	ok := false
	defer st.unlock(&ok)

	if f, isFlusher := any(st.stream).(Flusher); isFlusher {
		err = f.Flush()
	}
	ok = true
	return err
}

// Do 持锁执行 fn，用于设置超时、半关闭等需要直接访问底层流的操作
// fn 不得保留 stream 的引用
func (h *Stream[T]) Do(fn func(stream T) error) error {
	st, err := h.lock(opDo)
	if err != nil {
		return err
	}
	ok := false
	defer st.unlock(&ok)

	err = fn(st.stream)
	ok = true
	return err
}

// Close 释放当前句柄，对同一句柄重复调用无副作用
// 最后一个句柄释放时关闭底层流（若实现了 io.Closer）并返回其错误
func (h *Stream[T]) Close() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	if h.st.refs.Add(-1) != 0 {
		return nil
	}
	return h.st.destroy()
}

// Handles 当前存活的句柄数
func (h *Stream[T]) Handles() int64 {
	return h.st.refs.Load()
}

// Poisoned 存储是否已中毒
func (h *Stream[T]) Poisoned() bool {
	return h.st.poisoned.Load()
}

// Closed 当前句柄是否已关闭
func (h *Stream[T]) Closed() bool {
	return h.released.Load()
}

// ID 存储 ID，所有克隆句柄相同
func (h *Stream[T]) ID() string {
	return h.st.id
}

func (h *Stream[T]) lock(op string) (*storage[T], error) {
	if h.released.Load() {
		return nil, coreerrors.NewStreamError(op, "shared stream handle closed", nil)
	}

	st := h.st
	st.mu.Lock()
	if st.poisoned.Load() {
		st.mu.Unlock()
		st.logger.WithField("op", op).
			Errorf("Unable to acquire lock on shared stream %s operation", op)
		statBrokenPipe.Inc()
		return nil, coreerrors.NewBrokenPipe(op)
	}
	return st, nil
}

// unlock 释放锁；*ok 为 false 说明持锁期间发生了 panic，标记中毒
func (st *storage[T]) unlock(ok *bool) {
	if !*ok && st.poisoned.CompareAndSwap(false, true) {
		statPoisoned.Inc()
		st.logger.Error("shared stream poisoned: operation panicked while holding the lock")
	}
	st.mu.Unlock()
}

// acquire 引用计数加一；计数已归零（存储已销毁）时返回 false
func (st *storage[T]) acquire() bool {
	for {
		n := st.refs.Load()
		if n <= 0 {
			return false
		}
		if st.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (st *storage[T]) destroy() error {
	statReleased.Inc()

	st.mu.Lock()
	defer st.mu.Unlock()

	if c, ok := any(st.stream).(io.Closer); ok {
		if err := c.Close(); err != nil {
			st.logger.WithError(err).Warn("shared stream: underlying close failed")
			return err
		}
	}
	st.logger.Debug("shared stream released")
	return nil
}
