//go:build !deadlock

package shared

import "sync"

type mutex = sync.Mutex
