package transport

import (
	"context"
	"net"
	"time"

	coreerrors "sharedstream/internal/core/errors"
)

func init() {
	RegisterProtocol("tcp", 30, DialTCP, ListenTCP)
}

// DialTCP 建立 TCP 连接
func DialTCP(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "tcp dial %s failed", address)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
		_ = tcpConn.SetNoDelay(true)
	}

	return conn, nil
}

// ListenTCP 监听 TCP
func ListenTCP(ctx context.Context, address string) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "tcp listen %s failed", address)
	}
	return ln, nil
}
