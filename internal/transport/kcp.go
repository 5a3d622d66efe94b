//go:build !no_kcp

package transport

import (
	"context"
	"net"

	"github.com/xtaci/kcp-go/v5"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
)

// KCP 配置（无加密、无 FEC，最快模式）
const (
	KCPDataShards       = 0
	KCPParityShards     = 0
	KCPSndWnd           = 1024
	KCPRcvWnd           = 1024
	KCPNoDelay          = 1
	KCPInterval         = 10
	KCPResend           = 2
	KCPNC               = 1
	KCPMTU              = 1400
	KCPStreamBufferSize = 4 * 1024 * 1024
)

func init() {
	RegisterProtocol("kcp", 40, DialKCP, ListenKCP)
}

func configureKCP(sess *kcp.UDPSession) {
	sess.SetNoDelay(KCPNoDelay, KCPInterval, KCPResend, KCPNC)
	sess.SetWindowSize(KCPSndWnd, KCPRcvWnd)
	sess.SetMtu(KCPMTU)
	sess.SetACKNoDelay(true)
	sess.SetStreamMode(true)
}

// DialKCP 建立 KCP 连接
func DialKCP(_ context.Context, address string) (net.Conn, error) {
	sess, err := kcp.DialWithOptions(address, nil, KCPDataShards, KCPParityShards)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "failed to dial KCP")
	}
	configureKCP(sess)
	_ = sess.SetReadBuffer(KCPStreamBufferSize)
	_ = sess.SetWriteBuffer(KCPStreamBufferSize)

	corelog.Debugf("KCP: connected to %s, local=%s", address, sess.LocalAddr())
	return sess, nil
}

type kcpListener struct {
	listener *kcp.Listener
}

// ListenKCP 监听 KCP
func ListenKCP(_ context.Context, address string) (Listener, error) {
	ln, err := kcp.ListenWithOptions(address, nil, KCPDataShards, KCPParityShards)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "failed to listen KCP")
	}
	if err := ln.SetReadBuffer(KCPStreamBufferSize); err != nil {
		corelog.Warnf("KCP: failed to set read buffer: %v", err)
	}
	if err := ln.SetWriteBuffer(KCPStreamBufferSize); err != nil {
		corelog.Warnf("KCP: failed to set write buffer: %v", err)
	}
	return &kcpListener{listener: ln}, nil
}

func (l *kcpListener) Accept() (net.Conn, error) {
	sess, err := l.listener.AcceptKCP()
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "failed to accept KCP connection")
	}
	configureKCP(sess)
	return sess, nil
}

func (l *kcpListener) Close() error {
	return l.listener.Close()
}

func (l *kcpListener) Addr() net.Addr {
	return l.listener.Addr()
}
