//go:build !no_quic

package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
)

const quicALPN = "sharedstream-quic"

func init() {
	RegisterProtocol("quic", 20, DialQUIC, ListenQUIC)
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// QUICStreamConn 将单个 QUIC 流包装为 net.Conn，关闭时连同连接一起关闭
type QUICStreamConn struct {
	stream    *quic.Stream
	conn      *quic.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func newQUICStreamConn(conn *quic.Conn, stream *quic.Stream) *QUICStreamConn {
	return &QUICStreamConn{
		stream: stream,
		conn:   conn,
		closed: make(chan struct{}),
	}
}

func (c *QUICStreamConn) Read(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.EOF
	default:
	}

	n, err := c.stream.Read(p)
	if err != nil {
		select {
		case <-c.closed:
			return n, io.EOF
		default:
		}
	}
	return n, err
}

func (c *QUICStreamConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	return c.stream.Write(p)
}

func (c *QUICStreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.stream.Close()
		err = c.conn.CloseWithError(0, "normal closure")
		corelog.Debugf("QUIC: connection to %s closed", c.conn.RemoteAddr())
	})
	return err
}

func (c *QUICStreamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *QUICStreamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *QUICStreamConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}

func (c *QUICStreamConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *QUICStreamConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// DialQUIC 建立 QUIC 连接并打开一个双向流
// 服务端在收到首个字节后才能 Accept 到该流
func DialQUIC(ctx context.Context, address string) (net.Conn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}

	conn, err := quic.DialAddr(ctx, address, tlsConf, quicConfig())
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "quic dial failed")
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "failed to open stream")
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "quic open stream failed")
	}

	corelog.Debugf("QUIC: stream opened to %s", address)
	return newQUICStreamConn(conn, stream), nil
}

type quicListener struct {
	listener *quic.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	conns    chan net.Conn
}

// ListenQUIC 使用自签名证书监听 QUIC
func ListenQUIC(ctx context.Context, address string) (Listener, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, err
	}

	ln, err := quic.ListenAddr(address, tlsConf, quicConfig())
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "quic listen %s failed", address)
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &quicListener{
		listener: ln,
		ctx:      lctx,
		cancel:   cancel,
		conns:    make(chan net.Conn, 64),
	}
	go l.acceptConnections()
	return l, nil
}

func (l *quicListener) acceptConnections() {
	for {
		conn, err := l.listener.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				corelog.Errorf("QUIC: accept error: %v", err)
			}
			return
		}
		go l.acceptStream(conn)
	}
}

func (l *quicListener) acceptStream(conn *quic.Conn) {
	stream, err := conn.AcceptStream(l.ctx)
	if err != nil {
		corelog.Warnf("QUIC: accept stream from %s failed: %v", conn.RemoteAddr(), err)
		_ = conn.CloseWithError(0, "failed to accept stream")
		return
	}

	sc := newQUICStreamConn(conn, stream)
	select {
	case l.conns <- sc:
	case <-l.ctx.Done():
		_ = sc.Close()
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	l.cancel()
	return l.listener.Close()
}

func (l *quicListener) Addr() net.Addr {
	return l.listener.Addr()
}

func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "failed to generate RSA key")
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"sharedstream"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "failed to create certificate")
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "failed to load key pair")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
	}, nil
}
