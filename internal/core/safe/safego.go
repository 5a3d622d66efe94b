// Package safe 带 panic 恢复的 goroutine 管理
package safe

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	corelog "sharedstream/internal/core/log"
)

// Group 跟踪一组 goroutine，任一 goroutine 的 panic 会被恢复并记录，不影响其他 goroutine
type Group struct {
	name   string
	logger corelog.Logger

	wg     sync.WaitGroup
	active atomic.Int64
	total  atomic.Int64
	panics atomic.Int64
}

// Stats 统计信息
type Stats struct {
	Active int64
	Total  int64
	Panics int64
}

// NewGroup 创建 Group，logger 为 nil 时使用默认日志
func NewGroup(name string, logger corelog.Logger) *Group {
	if logger == nil {
		logger = corelog.Default()
	}
	return &Group{name: name, logger: logger}
}

// Go 启动 goroutine
func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	g.total.Add(1)
	g.active.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.panics.Add(1)
				g.logger.Errorf("SafeGo[%s]: panic recovered: %v\n%s", g.name, r, debug.Stack())
			}
			g.active.Add(-1)
			g.wg.Done()
		}()
		fn()
	}()
}

// Wait 等待所有 goroutine 退出
func (g *Group) Wait() {
	g.wg.Wait()
}

// Done 返回在所有 goroutine 退出后关闭的 channel
func (g *Group) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	return done
}

// Stats 获取统计信息
func (g *Group) Stats() Stats {
	return Stats{
		Active: g.active.Load(),
		Total:  g.total.Load(),
		Panics: g.panics.Load(),
	}
}
