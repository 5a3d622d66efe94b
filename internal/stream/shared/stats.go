package shared

import "github.com/puzpuzpuz/xsync/v3"

var (
	statWrapped    = xsync.NewCounter()
	statReleased   = xsync.NewCounter()
	statCloned     = xsync.NewCounter()
	statPoisoned   = xsync.NewCounter()
	statBrokenPipe = xsync.NewCounter()
)

// Stats 进程级共享流统计
type Stats struct {
	Wrapped    int64 // 创建的共享存储数
	Released   int64 // 已释放（最后一个句柄关闭）的存储数
	Cloned     int64 // Clone 出的句柄数
	Poisoned   int64 // 中毒事件数
	BrokenPipe int64 // 因中毒返回的 broken pipe 次数
}

// Active 仍然存活的共享存储数
func (s Stats) Active() int64 {
	return s.Wrapped - s.Released
}

// Snapshot 获取统计快照，各计数器分别读取，不保证相互一致
func Snapshot() Stats {
	return Stats{
		Wrapped:    statWrapped.Value(),
		Released:   statReleased.Value(),
		Cloned:     statCloned.Value(),
		Poisoned:   statPoisoned.Value(),
		BrokenPipe: statBrokenPipe.Value(),
	}
}
