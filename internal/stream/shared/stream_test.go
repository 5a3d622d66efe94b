package shared

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
)

func newCapturedLogger() (corelog.Logger, *logtest.Hook) {
	l, hook := logtest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return corelog.NewLogrusLogger(l), hook
}

func TestWrap_ReadWriteFlush(t *testing.T) {
	fake := newFakeStream("PING")
	s := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	defer s.Close()

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "PING", string(buf))

	n, err = s.Write([]byte("PONG"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, s.Flush())
	assert.Equal(t, int32(1), fake.flushes.Load())
	assert.Equal(t, "PONG", fake.buf.String())
	assert.Equal(t, int64(1), s.Handles())
	assert.False(t, s.Poisoned())
}

func TestWrap_NoIO(t *testing.T) {
	fake := newFakeStream("")
	s := Wrap(fake, WithID("stream-1"))
	defer s.Close()

	assert.Equal(t, int64(0), fake.ops.Load())
	assert.Equal(t, "stream-1", s.ID())
}

func TestRead_EndOfStream(t *testing.T) {
	s := Wrap(newFakeStream(""), WithLogger(corelog.NewNopLogger()))
	defer s.Close()

	n, err := s.Read(make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestRead_ShortRead(t *testing.T) {
	s := Wrap(newFakeStream("AB"), WithLogger(corelog.NewNopLogger()))
	defer s.Close()

	n, err := s.Read(make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWrite_ShortWriteForwarded(t *testing.T) {
	fake := newFakeStream("")
	fake.maxWrite = 3
	s := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	defer s.Close()

	n, err := s.Write([]byte("PONG"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "PON", fake.buf.String())
}

func TestErrorsForwardedVerbatim(t *testing.T) {
	fake := newFakeStream("")
	fake.readErr = errInjected
	fake.writeErr = errInjected
	s := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	defer s.Close()

	_, err := s.Read(make([]byte, 1))
	assert.Same(t, errInjected, err)

	_, err = s.Write([]byte("x"))
	assert.Same(t, errInjected, err)

	// 普通错误不会导致中毒
	assert.False(t, s.Poisoned())
	_, err = s.Read(make([]byte, 1))
	assert.Same(t, errInjected, err)
}

func TestFlush_NoFlusherIsNoop(t *testing.T) {
	s := Wrap[*plainStream](&plainStream{}, WithLogger(corelog.NewNopLogger()))
	defer s.Close()

	assert.NoError(t, s.Flush())
}

func TestClone_SharesStorage(t *testing.T) {
	fake := newFakeStream("")
	a := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	b := a.Clone()
	c := b.Clone()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	assert.Equal(t, int64(3), a.Handles())
	assert.Equal(t, a.ID(), c.ID())

	_, err := a.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestClone_OutlivesOriginal(t *testing.T) {
	fake := newFakeStream("data")
	orig := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	clone := orig.Clone()

	require.NoError(t, orig.Close())
	assert.Equal(t, int32(0), fake.closes.Load())
	assert.Equal(t, int64(1), clone.Handles())

	buf := make([]byte, 4)
	n, err := clone.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))

	_, err = orig.Read(buf)
	assert.ErrorIs(t, err, coreerrors.ErrStreamClosed)

	require.NoError(t, clone.Close())
	assert.Equal(t, int32(1), fake.closes.Load())
}

func TestClone_ClosedHandle(t *testing.T) {
	fake := newFakeStream("")
	s := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	keep := s.Clone()
	require.NoError(t, s.Close())

	dead := s.Clone()
	assert.True(t, dead.Closed())
	assert.Equal(t, int64(1), keep.Handles())
	assert.NoError(t, dead.Close())

	require.NoError(t, keep.Close())
	assert.True(t, keep.Clone().Closed())
	assert.Equal(t, int32(1), fake.closes.Load())
}

func TestClose_ExactlyOnce(t *testing.T) {
	fake := newFakeStream("")
	s := Wrap(fake, WithLogger(corelog.NewNopLogger()))

	handles := []*Stream[*fakeStream]{s}
	for i := 0; i < 31; i++ {
		handles = append(handles, s.Clone())
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Stream[*fakeStream]) {
			defer wg.Done()
			assert.NoError(t, h.Close())
			assert.NoError(t, h.Close())
		}(h)
	}
	wg.Wait()

	assert.Equal(t, int32(1), fake.closes.Load())
	assert.Equal(t, int64(0), s.Handles())

	_, err := s.Write([]byte("x"))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeStreamClosed))
	assert.Equal(t, int64(0), fake.ops.Load())
}

func TestClose_ReturnsUnderlyingError(t *testing.T) {
	fake := newFakeStream("")
	fake.closeErr = errInjected
	s := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	c := s.Clone()

	assert.NoError(t, s.Close())
	assert.Same(t, errInjected, c.Close())
}

func TestConcurrent_NoReentrantAccess(t *testing.T) {
	const workers = 8
	const opsPerWorker = 200

	fake := newFakeStream("")
	root := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	defer root.Close()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		h := root.Clone()
		wg.Add(1)
		go func(w int, h *Stream[*fakeStream]) {
			defer wg.Done()
			defer h.Close()
			buf := make([]byte, 16)
			for i := 0; i < opsPerWorker; i++ {
				switch i % 3 {
				case 0:
					_, err := h.Write([]byte(fmt.Sprintf("w%02d-%04d;", w, i)))
					assert.NoError(t, err)
				case 1:
					_, _ = h.Read(buf)
				case 2:
					assert.NoError(t, h.Flush())
				}
			}
		}(w, h)
	}
	wg.Wait()

	assert.Equal(t, int32(0), fake.violations.Load(), "underlying stream accessed concurrently")
	assert.Equal(t, int64(workers*opsPerWorker), fake.ops.Load())

	// 每次写入都是完整的，没有被其它操作切开
	written := 0
	for _, chunk := range fake.writes {
		assert.Len(t, chunk, 9)
		assert.Equal(t, byte(';'), chunk[len(chunk)-1])
		written++
	}
	expectedWrites := 0
	for i := 0; i < opsPerWorker; i++ {
		if i%3 == 0 {
			expectedWrites++
		}
	}
	assert.Equal(t, workers*expectedWrites, written)
}

func TestScenario_PingPong(t *testing.T) {
	fake := newFakeStream("PING")
	root := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	a := root.Clone()
	b := root.Clone()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := a.Write([]byte("PONG"))
		assert.NoError(t, err)
		assert.Equal(t, 4, n)
	}()

	var got []byte
	go func() {
		defer wg.Done()
		buf := make([]byte, 4)
		n, err := io.ReadFull(b, buf)
		assert.NoError(t, err)
		got = buf[:n]
	}()
	wg.Wait()

	// 无论哪个先拿到锁，读到的都是种子数据，剩下的是完整的 PONG
	assert.Equal(t, "PING", string(got))
	assert.Equal(t, "PONG", fake.buf.String())
	assert.Equal(t, [][]byte{[]byte("PONG")}, fake.writes)
	assert.Equal(t, int32(0), fake.violations.Load())

	for _, h := range []*Stream[*fakeStream]{root, a, b} {
		require.NoError(t, h.Close())
	}
	assert.Equal(t, int32(1), fake.closes.Load())
}

func TestConcurrent_SerializableWrites(t *testing.T) {
	// 各 goroutine 写入的字节总量与单一流记录的一致
	var sink bytes.Buffer
	root := Wrap[*plainStream](&plainStream{}, WithLogger(corelog.NewNopLogger()))
	defer root.Close()

	const workers = 6
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		h := root.Clone()
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			defer h.Close()
			for i := 0; i < 50; i++ {
				_, err := h.Write(bytes.Repeat([]byte{byte('a' + w)}, 10))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, root.Do(func(s *plainStream) error {
		_, err := sink.ReadFrom(s)
		return err
	}))

	data := sink.Bytes()
	require.Len(t, data, workers*50*10)
	for i := 0; i < len(data); i += 10 {
		assert.Equal(t, bytes.Repeat(data[i:i+1], 10), data[i:i+10])
	}
}

func TestPoison_AllHandlesBrokenPipe(t *testing.T) {
	logger, hook := newCapturedLogger()
	fake := newFakeStream("")
	a := Wrap(fake, WithLogger(logger), WithID("poison-test"))
	b := a.Clone()
	defer a.Close()
	defer b.Close()

	fake.panicOn.Store(opWrite)
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "panic must propagate to the caller")
		}()
		_, _ = a.Write([]byte("boom"))
	}()
	fake.panicOn.Store("")

	require.True(t, b.Poisoned())
	hook.Reset()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range []*Stream[*fakeStream]{a, b} {
			_, err := h.Read(make([]byte, 1))
			assert.ErrorIs(t, err, coreerrors.ErrBrokenPipe)
			assert.ErrorIs(t, err, syscall.EPIPE)

			_, err = h.Write([]byte("x"))
			assert.True(t, coreerrors.IsBrokenPipe(err))

			err = h.Flush()
			assert.True(t, coreerrors.IsFatal(err))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("operations on a poisoned stream blocked")
	}

	entries := hook.AllEntries()
	require.Len(t, entries, 6)
	ops := []string{opRead, opWrite, opFlush, opRead, opWrite, opFlush}
	for i, e := range entries {
		assert.Equal(t, logrus.ErrorLevel, e.Level)
		assert.Equal(t, fmt.Sprintf("Unable to acquire lock on shared stream %s operation", ops[i]), e.Message)
		assert.Equal(t, ops[i], e.Data["op"])
		assert.Equal(t, "poison-test", e.Data["stream_id"])
	}

	// 中毒后底层流不再被访问
	assert.Equal(t, int64(1), fake.ops.Load())
}

func TestPoison_ReadAndFlushPanics(t *testing.T) {
	for _, op := range []string{opRead, opFlush} {
		t.Run(op, func(t *testing.T) {
			fake := newFakeStream("abc")
			s := Wrap(fake, WithLogger(corelog.NewNopLogger()))
			defer s.Close()

			fake.panicOn.Store(op)
			assert.Panics(t, func() {
				if op == opRead {
					_, _ = s.Read(make([]byte, 1))
				} else {
					_ = s.Flush()
				}
			})
			fake.panicOn.Store("")

			_, err := s.Write([]byte("x"))
			assert.ErrorIs(t, err, coreerrors.ErrBrokenPipe)
		})
	}
}

func TestPoison_CloseStillReleases(t *testing.T) {
	fake := newFakeStream("")
	s := Wrap(fake, WithLogger(corelog.NewNopLogger()))

	assert.Panics(t, func() {
		_ = s.Do(func(*fakeStream) error { panic("inside critical section") })
	})
	assert.True(t, s.Poisoned())

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), fake.closes.Load())
}

func TestDo_RunsUnderLock(t *testing.T) {
	fake := newFakeStream("xyz")
	s := Wrap(fake, WithLogger(corelog.NewNopLogger()))
	defer s.Close()

	var seen string
	err := s.Do(func(f *fakeStream) error {
		seen = f.buf.String()
		return errInjected
	})
	assert.Same(t, errInjected, err)
	assert.Equal(t, "xyz", seen)
}

func TestStats(t *testing.T) {
	before := Snapshot()

	s := Wrap(newFakeStream(""), WithLogger(corelog.NewNopLogger()))
	c := s.Clone()
	require.NoError(t, s.Close())
	require.NoError(t, c.Close())

	after := Snapshot()
	assert.GreaterOrEqual(t, after.Wrapped-before.Wrapped, int64(1))
	assert.GreaterOrEqual(t, after.Released-before.Released, int64(1))
	assert.GreaterOrEqual(t, after.Cloned-before.Cloned, int64(1))
}
