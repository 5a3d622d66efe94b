// Package version 构建版本信息
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// Version 版本号，构建时通过 -ldflags 注入
	Version = "dev"

	// BuildTime 构建时间，通过 -ldflags 注入
	BuildTime = ""

	// GitCommit Git 提交哈希，通过 -ldflags 注入
	GitCommit = ""
)

func init() {
	if Version != "dev" {
		return
	}
	// go install 安装时从模块信息取版本
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			Version = v
		}
	}
}

// GetVersion 版本号，带 v 前缀
func GetVersion() string {
	v := "v" + strings.TrimPrefix(Version, "v")
	if BuildTime != "" {
		v += " (built " + BuildTime + ")"
	}
	if len(GitCommit) >= 8 {
		v += " commit " + GitCommit[:8]
	} else if GitCommit != "" {
		v += " commit " + GitCommit
	}
	return v
}

// Platform 运行平台
func Platform() string {
	return fmt.Sprintf("%s/%s %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}
