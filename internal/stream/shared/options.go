package shared

import (
	corelog "sharedstream/internal/core/log"
)

// Option 配置 Wrap
type Option func(*options)

type options struct {
	logger corelog.Logger
	id     string
}

// WithLogger 指定诊断日志，默认使用 corelog.Default()
func WithLogger(l corelog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithID 指定流 ID，默认随机 UUID
func WithID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.id = id
		}
	}
}
