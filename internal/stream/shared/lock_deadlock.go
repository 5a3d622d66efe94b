//go:build deadlock

package shared

import "github.com/linkdata/deadlock"

// 使用 -tags deadlock 编译时替换为带死锁检测的互斥锁
type mutex = deadlock.Mutex
