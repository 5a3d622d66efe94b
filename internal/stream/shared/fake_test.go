package shared

import (
	"bytes"
	"errors"
	"runtime"
	"sync/atomic"
)

// fakeStream 内存双工流，检测重入访问；自身不加锁，依赖 Stream 串行化
type fakeStream struct {
	buf    bytes.Buffer
	writes [][]byte

	active     atomic.Int32
	violations atomic.Int32
	ops        atomic.Int64
	flushes    atomic.Int32
	closes     atomic.Int32

	panicOn  atomic.Value // string: "read" / "write" / "flush"
	readErr  error
	writeErr error
	closeErr error
	maxWrite int // >0 时模拟短写
}

func newFakeStream(seed string) *fakeStream {
	f := &fakeStream{}
	f.buf.WriteString(seed)
	f.panicOn.Store("")
	return f
}

func (f *fakeStream) enter(op string) {
	if f.active.Add(1) != 1 {
		f.violations.Add(1)
	}
	f.ops.Add(1)
	// 放大竞争窗口
	runtime.Gosched()
	if f.panicOn.Load().(string) == op {
		f.active.Add(-1)
		panic("injected " + op + " failure")
	}
}

func (f *fakeStream) exit() {
	f.active.Add(-1)
}

func (f *fakeStream) Read(p []byte) (int, error) {
	f.enter(opRead)
	defer f.exit()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.buf.Read(p)
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.enter(opWrite)
	defer f.exit()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.maxWrite > 0 && len(p) > f.maxWrite {
		p = p[:f.maxWrite]
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return f.buf.Write(p)
}

func (f *fakeStream) Flush() error {
	f.enter(opFlush)
	defer f.exit()
	f.flushes.Add(1)
	return nil
}

func (f *fakeStream) Close() error {
	f.closes.Add(1)
	return f.closeErr
}

// plainStream 只实现 io.ReadWriter
type plainStream struct {
	bytes.Buffer
}

var errInjected = errors.New("injected transport error")
