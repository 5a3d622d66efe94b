// Package transport 传输层协议注册表
// 各协议提供拨号和监听两端，产出的 net.Conn 可直接交给 shared.Wrap
// 支持通过 build tags（no_websocket / no_quic / no_kcp）裁剪协议
package transport

import (
	"context"
	"net"
	"sort"
	"sync"

	coreerrors "sharedstream/internal/core/errors"
)

// Dialer 协议拨号函数
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// ListenFunc 协议监听函数
type ListenFunc func(ctx context.Context, address string) (Listener, error)

// Listener 协议无关的监听器
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// ProtocolInfo 协议信息
type ProtocolInfo struct {
	Name     string // tcp, websocket, quic, kcp
	Priority int    // 数字越小优先级越高
	Dialer   Dialer
	Listen   ListenFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*ProtocolInfo)
	aliases    = map[string]string{"ws": "websocket"}
)

// RegisterProtocol 注册协议
func RegisterProtocol(name string, priority int, dialer Dialer, listen ListenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = &ProtocolInfo{
		Name:     name,
		Priority: priority,
		Dialer:   dialer,
		Listen:   listen,
	}
}

// GetProtocol 获取协议信息，支持别名
func GetProtocol(name string) (*ProtocolInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	info, ok := registry[name]
	return info, ok
}

// GetRegisteredProtocols 获取所有已注册的协议（按优先级排序）
func GetRegisteredProtocols() []*ProtocolInfo {
	registryMu.RLock()
	protocols := make([]*ProtocolInfo, 0, len(registry))
	for _, info := range registry {
		protocols = append(protocols, info)
	}
	registryMu.RUnlock()

	sort.Slice(protocols, func(i, j int) bool {
		return protocols[i].Priority < protocols[j].Priority
	})
	return protocols
}

// IsProtocolAvailable 检查协议是否编译进来
func IsProtocolAvailable(name string) bool {
	_, ok := GetProtocol(name)
	return ok
}

// GetAvailableProtocolNames 获取所有可用协议名称
func GetAvailableProtocolNames() []string {
	protocols := GetRegisteredProtocols()
	names := make([]string, len(protocols))
	for i, p := range protocols {
		names[i] = p.Name
	}
	return names
}

// Dial 使用指定协议建立连接
func Dial(ctx context.Context, protocol, address string) (net.Conn, error) {
	info, ok := GetProtocol(protocol)
	if !ok {
		return nil, coreerrors.Newf(coreerrors.CodeProtocolError, "protocol %q is not available (not compiled in)", protocol)
	}
	return info.Dialer(ctx, address)
}

// Listen 使用指定协议监听
func Listen(ctx context.Context, protocol, address string) (Listener, error) {
	info, ok := GetProtocol(protocol)
	if !ok {
		return nil, coreerrors.Newf(coreerrors.CodeProtocolError, "protocol %q is not available (not compiled in)", protocol)
	}
	return info.Listen(ctx, address)
}
