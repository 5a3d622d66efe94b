package pingpong

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
	"sharedstream/internal/stream/shared"
)

// PingerConfig 客户端参数
type PingerConfig struct {
	Count    int           // 0 表示直到 ctx 取消
	Window   int           // 最多未应答请求数，至少为 1
	Rate     float64       // 每秒请求数，0 表示不限速
	Timeout  time.Duration // 等待单个应答的超时，0 表示不限
	Interval time.Duration // 进度日志间隔，0 表示不输出
	Logger   corelog.Logger
}

// Result 一次运行的统计
type Result struct {
	Sent     int
	Received int
	RTTs     []time.Duration
	Min      time.Duration
	Avg      time.Duration
	Max      time.Duration
	P50      time.Duration
	Elapsed  time.Duration
}

// Lost 未收到应答的请求数
func (r *Result) Lost() int {
	return r.Sent - r.Received
}

type pending struct {
	seq    uint32
	sentAt time.Time
}

// Pinger 在一条连接上并发收发：写句柄发送 PING，读句柄接收 PONG
type Pinger struct {
	conn   net.Conn
	stream *shared.Stream[net.Conn]
	cfg    PingerConfig
	logger corelog.Logger
}

// NewPinger 接管 conn
func NewPinger(conn net.Conn, cfg PingerConfig) *Pinger {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = corelog.Default()
	}
	s := shared.Wrap(conn, shared.WithLogger(logger))
	return &Pinger{
		conn:   conn,
		stream: s,
		cfg:    cfg,
		logger: logger.WithField("stream_id", s.ID()),
	}
}

// Stream 返回一个新的克隆句柄，调用方负责 Close
func (p *Pinger) Stream() *shared.Stream[net.Conn] {
	return p.stream.Clone()
}

// Close 释放 Pinger 持有的句柄；Run 中的句柄会在 Run 返回前释放
func (p *Pinger) Close() error {
	return p.stream.Close()
}

// Run 发送 Count 个请求并等待全部应答
// 读端只在有未应答请求时才读取，避免持锁阻塞写端
func (p *Pinger) Run(ctx context.Context) (*Result, error) {
	writer := p.stream.Clone()
	reader := p.stream.Clone()
	defer writer.Close()
	defer reader.Close()

	limit := rate.Inf
	if p.cfg.Rate > 0 {
		limit = rate.Limit(p.cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	window := make(chan struct{}, p.cfg.Window)
	outstanding := make(chan pending, p.cfg.Window)

	var sent atomic.Int64
	var mu sync.Mutex
	rtts := make([]time.Duration, 0, p.cfg.Count)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	// 取消时打断阻塞中的读写；net.Conn 的截止时间可并发设置
	interrupted := make(chan struct{})
	stop := context.AfterFunc(gctx, func() {
		defer close(interrupted)
		_ = p.conn.SetDeadline(aLongTimeAgo)
	})

	g.Go(func() error {
		defer close(outstanding)
		for seq := uint32(0); p.cfg.Count == 0 || int(seq) < p.cfg.Count; seq++ {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}

			sentAt := time.Now()
			if err := WriteFrame(writer, Frame{Kind: KindPing, Seq: seq}); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return err
			}
			sent.Add(1)

			// 写成功后才登记，读端据此开始读取
			select {
			case outstanding <- pending{seq: seq, sentAt: sentAt}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		lastReport := time.Now()
		for pend := range outstanding {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.setReadDeadline(reader); err != nil {
				return err
			}

			f, err := ReadFrame(reader)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if isTimeout(err) {
					return coreerrors.Wrapf(err, coreerrors.CodeTimeout, "no reply for seq %d within %s", pend.seq, p.cfg.Timeout)
				}
				return err
			}
			if f.Kind != KindPong || f.Seq != pend.seq {
				return coreerrors.Newf(coreerrors.CodeProtocolError, "expected PONG %d, got %s %d", pend.seq, f.Kind, f.Seq)
			}

			rtt := time.Since(pend.sentAt)
			mu.Lock()
			rtts = append(rtts, rtt)
			received := len(rtts)
			mu.Unlock()
			<-window

			p.logger.Debugf("PONG seq=%d rtt=%s", f.Seq, rtt)
			if p.cfg.Interval > 0 && time.Since(lastReport) >= p.cfg.Interval {
				p.logger.Infof("progress: sent=%d received=%d", sent.Load(), received)
				lastReport = time.Now()
			}
		}
		return nil
	})

	err := g.Wait()

	// Wait 返回时 gctx 必然被取消，等打断完成后再清除截止时间
	if !stop() {
		<-interrupted
	}
	_ = writer.Do(func(c net.Conn) error { return c.SetDeadline(time.Time{}) })

	mu.Lock()
	result := summarize(int(sent.Load()), rtts, time.Since(start))
	mu.Unlock()

	if err != nil {
		p.logger.WithError(err).Warnf("ping stopped after %d/%d replies", result.Received, result.Sent)
		return result, err
	}
	return result, nil
}

func (p *Pinger) setReadDeadline(h *shared.Stream[net.Conn]) error {
	if p.cfg.Timeout <= 0 {
		return nil
	}
	deadline := time.Now().Add(p.cfg.Timeout)
	return h.Do(func(c net.Conn) error {
		return c.SetReadDeadline(deadline)
	})
}

var aLongTimeAgo = time.Unix(1, 0)

func isTimeout(err error) bool {
	var ne net.Error
	return coreerrors.As(err, &ne) && ne.Timeout()
}

func summarize(sent int, rtts []time.Duration, elapsed time.Duration) *Result {
	r := &Result{
		Sent:     sent,
		Received: len(rtts),
		RTTs:     append([]time.Duration(nil), rtts...),
		Elapsed:  elapsed,
	}
	if len(rtts) == 0 {
		return r
	}

	sorted := append([]time.Duration(nil), rtts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	r.Min = sorted[0]
	r.Max = sorted[len(sorted)-1]
	r.Avg = total / time.Duration(len(sorted))
	r.P50 = sorted[len(sorted)/2]
	return r
}
