// Package httpserver wraps net/http for the single HTTP surface of the
// application, the prometheus exporter endpoint: one handler, bounded
// read/write, graceful shutdown.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	defaultReadTimeout     = time.Second * 5
	defaultWriteTimeout    = time.Second * 5
	defaultShutdownTimeout = time.Second * 10
)

type HTTPServer struct {
	addr            *net.TCPAddr
	listener        *net.TCPListener
	server          *http.Server
	shutdownTimeout time.Duration
	closed          chan struct{}
	onReady         func(net.Addr)
}

type Option func(*HTTPServer) error

func WithReadTimeout(timeout time.Duration) Option {
	return func(s *HTTPServer) error {
		s.server.ReadTimeout = timeout
		return nil
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *HTTPServer) error {
		s.server.WriteTimeout = timeout
		return nil
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *HTTPServer) error {
		s.shutdownTimeout = timeout
		return nil
	}
}

func WithHandler(handler http.Handler) Option {
	return func(s *HTTPServer) error {
		s.server.Handler = handler
		return nil
	}
}

// WithReadySignal registers a callback invoked with the bound address
// once the listener is accepting connections.
func WithReadySignal(cb func(net.Addr)) Option {
	return func(s *HTTPServer) error {
		s.onReady = cb
		return nil
	}
}

func New(addr string, opts ...Option) (*HTTPServer, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &HTTPServer{
		addr: tcpAddr,
		server: &http.Server{ // nolint: gosec
			Addr:         addr,
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
		},
		shutdownTimeout: defaultShutdownTimeout,
		closed:          make(chan struct{}),
	}
	for _, opt := range opts {
		if optErr := opt(server); optErr != nil {
			return nil, optErr
		}
	}
	server.server.ReadHeaderTimeout = server.server.ReadTimeout
	return server, nil
}

func (s *HTTPServer) ListenAndServe() error {
	fatal := make(chan error, 1)

	listener, err := net.ListenTCP("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	defer listener.Close()

	if s.onReady != nil {
		s.onReady(s.listener.Addr())
	}

	go func() {
		if serveErr := s.server.Serve(s.listener); serveErr != nil {
			fatal <- serveErr
		}
	}()

	select {
	case err := <-fatal:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-s.closed:
		return nil
	}
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	close(s.closed)
	stopCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("http server: shutdown %s: %w", s.addr, err)
	}
	return nil
}
