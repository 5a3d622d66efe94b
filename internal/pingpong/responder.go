package pingpong

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
	"sharedstream/internal/core/safe"
	"sharedstream/internal/metrics"
	"sharedstream/internal/stream/shared"
	"sharedstream/internal/transport"
)

// ResponderConfig 服务端参数
type ResponderConfig struct {
	IdleTimeout time.Duration // 会话空闲超时，0 表示不限
	Logger      corelog.Logger
	Metrics     *metrics.Metrics // 可为 nil
}

// SessionInfo 会话快照
type SessionInfo struct {
	ID         string
	RemoteAddr string
	StartedAt  time.Time
	Frames     int64
}

type session struct {
	id      string
	conn    net.Conn
	stream  *shared.Stream[net.Conn]
	started time.Time
	frames  atomic.Int64
	logger  corelog.Logger
}

// Responder 对每个 PING 回复同序号的 PONG
// 每个会话在单个 goroutine 中先读后写，读写经由同一份共享存储
type Responder struct {
	listener transport.Listener
	cfg      ResponderConfig
	logger   corelog.Logger

	sessions *xsync.MapOf[string, *session]
	group    *safe.Group
	closing  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewResponder 创建服务端，listener 由 Responder 接管
func NewResponder(listener transport.Listener, cfg ResponderConfig) *Responder {
	logger := cfg.Logger
	if logger == nil {
		logger = corelog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Responder{
		listener: listener,
		cfg:      cfg,
		logger:   logger,
		sessions: xsync.NewMapOf[string, *session](),
		group:    safe.NewGroup("pingpong-session", logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Addr 监听地址
func (r *Responder) Addr() net.Addr {
	return r.listener.Addr()
}

// Serve 接受连接直到 ctx 取消或 Shutdown
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.closing.Store(true)
		r.cancel()
		_ = r.listener.Close()
	})
	defer stop()

	r.logger.Infof("responder listening on %s", r.listener.Addr())

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if r.closing.Load() {
				return nil
			}
			return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "accept failed")
		}
		r.startSession(conn)
	}
}

// Shutdown 关闭监听器并等待会话退出，ctx 到期时返回其错误
func (r *Responder) Shutdown(ctx context.Context) error {
	var err error
	if r.closing.CompareAndSwap(false, true) {
		r.cancel()
		err = r.listener.Close()
	}

	select {
	case <-r.group.Done():
		r.logger.Info("responder stopped")
		return err
	case <-ctx.Done():
		return coreerrors.Wrapf(ctx.Err(), coreerrors.CodeTimeout, "%d sessions still active", r.sessions.Size())
	}
}

// SessionCount 活跃会话数
func (r *Responder) SessionCount() int {
	return r.sessions.Size()
}

// Sessions 活跃会话快照
func (r *Responder) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, r.sessions.Size())
	r.sessions.Range(func(_ string, s *session) bool {
		infos = append(infos, SessionInfo{
			ID:         s.id,
			RemoteAddr: s.conn.RemoteAddr().String(),
			StartedAt:  s.started,
			Frames:     s.frames.Load(),
		})
		return true
	})
	return infos
}

func (r *Responder) startSession(conn net.Conn) {
	id := uuid.NewString()
	logger := r.logger.WithFields(map[string]interface{}{
		"session_id": id,
		"remote":     conn.RemoteAddr().String(),
	})
	s := &session{
		id:      id,
		conn:    conn,
		stream:  shared.Wrap(conn, shared.WithID(id), shared.WithLogger(r.logger)),
		started: time.Now(),
		logger:  logger,
	}
	r.sessions.Store(id, s)
	r.cfg.Metrics.SessionStarted()

	// 会话内的 panic 会使其共享存储中毒，由 group 恢复，不影响其他会话
	r.group.Go(func() {
		defer r.sessions.Delete(id)
		defer s.stream.Close()

		err := r.serveSession(s)
		r.cfg.Metrics.SessionEnded(err)

		switch {
		case err == nil:
			logger.Debugf("session closed after %d frames", s.frames.Load())
		case coreerrors.IsCode(err, coreerrors.CodeTimeout):
			logger.Infof("session idle for %s, closing", r.cfg.IdleTimeout)
		default:
			logger.WithError(err).Warn("session failed")
		}
	})
}

// PanicCount 已恢复的会话 panic 次数
func (r *Responder) PanicCount() int64 {
	return r.group.Stats().Panics
}

// serveSession 顺序处理：读一个 PING，写一个 PONG
func (r *Responder) serveSession(s *session) error {
	// 关闭时打断阻塞中的读
	stop := context.AfterFunc(r.ctx, func() {
		_ = s.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	s.logger.Debug("session started")

	for {
		if r.cfg.IdleTimeout > 0 {
			deadline := time.Now().Add(r.cfg.IdleTimeout)
			if err := s.stream.Do(func(c net.Conn) error {
				return c.SetReadDeadline(deadline)
			}); err != nil {
				return err
			}
		}

		f, err := ReadFrame(s.stream)
		if err != nil {
			switch {
			case r.ctx.Err() != nil:
				return nil
			case coreerrors.Is(err, io.EOF):
				return nil
			case isTimeout(err):
				return coreerrors.Wrap(err, coreerrors.CodeTimeout, "session idle timeout")
			default:
				return err
			}
		}
		if f.Kind != KindPing {
			return coreerrors.Newf(coreerrors.CodeProtocolError, "unexpected %s frame from client", f.Kind)
		}

		if err := WriteFrame(s.stream, Frame{Kind: KindPong, Seq: f.Seq}); err != nil {
			return err
		}
		s.frames.Add(1)
		r.cfg.Metrics.FrameServed()
	}
}
