//go:build !no_websocket

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
)

// WebSocketPath 默认的 WebSocket 路径
const WebSocketPath = "/_stream"

const webSocketBufferSize = 32 * 1024

func init() {
	RegisterProtocol("websocket", 10, DialWebSocket, ListenWebSocket)
}

// WebSocketStreamConn 将 WebSocket 二进制消息适配为字节流 net.Conn
type WebSocketStreamConn struct {
	conn       *websocket.Conn
	readBuf    []byte
	readMu     sync.Mutex
	writeMu    sync.Mutex
	closeOnce  sync.Once
	closed     chan struct{}
	localAddr  net.Addr
	remoteAddr net.Addr
}

func newWebSocketStreamConn(conn *websocket.Conn) *WebSocketStreamConn {
	return &WebSocketStreamConn{
		conn:       conn,
		closed:     make(chan struct{}),
		localAddr:  &wsAddr{addr: conn.LocalAddr().String()},
		remoteAddr: &wsAddr{addr: conn.RemoteAddr().String()},
	}
}

// Read 实现 io.Reader，一条消息可能跨多次 Read 返回
func (c *WebSocketStreamConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closed:
		return 0, io.EOF
	default:
	}

	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return 0, io.EOF
		default:
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, io.EOF
		}
		return 0, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "websocket read failed")
	}

	if messageType != websocket.BinaryMessage {
		return 0, coreerrors.Newf(coreerrors.CodeProtocolError, "unexpected websocket message type: %d", messageType)
	}

	n := copy(p, data)
	if n < len(data) {
		c.readBuf = append(c.readBuf, data[n:]...)
	}
	return n, nil
}

// Write 实现 io.Writer，每次写入发送一条二进制消息
func (c *WebSocketStreamConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "websocket write failed")
	}
	return len(p), nil
}

// Close 发送关闭帧并关闭底层连接
func (c *WebSocketStreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
		corelog.Debugf("WebSocket: connection to %s closed", c.remoteAddr)
	})
	return err
}

func (c *WebSocketStreamConn) LocalAddr() net.Addr  { return c.localAddr }
func (c *WebSocketStreamConn) RemoteAddr() net.Addr { return c.remoteAddr }

func (c *WebSocketStreamConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *WebSocketStreamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *WebSocketStreamConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

type wsAddr struct {
	addr string
}

func (a *wsAddr) Network() string { return "websocket" }
func (a *wsAddr) String() string  { return a.addr }

// NormalizeWebSocketURL 规范化 WebSocket 地址：
// - http(s):// 转换为 ws(s)://
// - 无路径时补 WebSocketPath
// - host:port 补 ws:// 前缀
func NormalizeWebSocketURL(address string) (string, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") ||
		strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		parsedURL, err := url.Parse(address)
		if err != nil {
			return "", coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "invalid URL format")
		}

		scheme := strings.ToLower(parsedURL.Scheme)
		switch scheme {
		case "http":
			scheme = "ws"
		case "https":
			scheme = "wss"
		}

		path := parsedURL.Path
		if path == "" {
			path = WebSocketPath
		}

		wsURL := fmt.Sprintf("%s://%s%s", scheme, parsedURL.Host, path)
		if parsedURL.RawQuery != "" {
			wsURL += "?" + parsedURL.RawQuery
		}
		return wsURL, nil
	}

	if strings.Contains(address, "/") {
		return "ws://" + address, nil
	}
	return "ws://" + address + WebSocketPath, nil
}

// DialWebSocket 建立 WebSocket 连接
func DialWebSocket(ctx context.Context, address string) (net.Conn, error) {
	wsURL, err := NormalizeWebSocketURL(address)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 20 * time.Second,
		ReadBufferSize:   webSocketBufferSize,
		WriteBufferSize:  webSocketBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "websocket dial failed")
	}

	corelog.Debugf("WebSocket: connected to %s", wsURL)
	return newWebSocketStreamConn(conn), nil
}

// webSocketListener HTTP 服务器升级后的连接通过 conns 交给 Accept
type webSocketListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	conns    chan net.Conn
	done     chan struct{}
	once     sync.Once
}

// ListenWebSocket 在 address 上启动 HTTP 服务，WebSocketPath 路径上接受连接
func ListenWebSocket(ctx context.Context, address string) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "websocket listen %s failed", address)
	}

	l := &webSocketListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  webSocketBufferSize,
			WriteBufferSize: webSocketBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(chan net.Conn, 64),
		done:  make(chan struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc(WebSocketPath, l.handleUpgrade).Methods(http.MethodGet)
	l.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			corelog.Errorf("WebSocket: server on %s stopped: %v", ln.Addr(), err)
		}
	}()

	return l, nil
}

func (l *webSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		corelog.Warnf("WebSocket: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	wsc := newWebSocketStreamConn(conn)
	select {
	case l.conns <- wsc:
	case <-l.done:
		_ = wsc.Close()
	}
}

func (l *webSocketListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *webSocketListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = l.server.Shutdown(ctx)
	})
	return err
}

func (l *webSocketListener) Addr() net.Addr {
	return l.ln.Addr()
}
