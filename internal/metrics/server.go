package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
)

// Server 暴露 /metrics 的 HTTP 服务
type Server struct {
	ln     net.Listener
	server *http.Server
	logger corelog.Logger
}

// Listen 在 address 上启动 HTTP 服务
func (m *Metrics) Listen(ctx context.Context, address string, logger corelog.Logger) (*Server, error) {
	if logger == nil {
		logger = corelog.Default()
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "metrics listen %s failed", address)
	}

	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	s := &Server{
		ln: ln,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server on %s stopped: %v", ln.Addr(), err)
		}
	}()
	logger.Infof("metrics available at http://%s/metrics", ln.Addr())
	return s, nil
}

// Addr 监听地址
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
