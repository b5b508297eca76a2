// Package http implements the proxy with an HTTP server.
package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/keygen"
)

type key int

const (
	requestIDKey key = 0
)

const shutdownTimeout = 10 * time.Second

// NewHTTP creates a new proxy http
func NewHTTP(listenAddr string) *HTTP {
	logger := keygen.Logger.With().Timestamp().Str("role", "http proxy").Logger()

	nextRequestID := func() string {
		return xid.New().String()
	}

	mux := http.NewServeMux()

	return &HTTP{
		mux: mux,
		server: &http.Server{
			Addr:              listenAddr,
			Handler:           tracing(nextRequestID)(logging(logger)(mux)),
			ReadHeaderTimeout: shutdownTimeout,
		},
		logger:     logger,
		listenAddr: listenAddr,
		quit:       make(chan struct{}, 1),
	}
}

// HTTP defines a proxy http
//
// - implements proxy.Proxy
type HTTP struct {
	sync.Mutex

	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
	listenAddr string
	ln         net.Listener
	quit       chan struct{}
}

// Listen implements proxy.Proxy. This function can be called multiple times
// provided the server is not running, ie. Stop() has been called.
func (h *HTTP) Listen() {
	h.logger.Info().Msg("Client server is starting...")

	ln, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		h.logger.Error().Msgf("failed to create conn '%s': %v", h.listenAddr, err)
		return
	}

	h.Lock()
	h.ln = ln
	h.Unlock()

	done := make(chan struct{})

	go func() {
		<-h.quit
		h.logger.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		h.server.SetKeepAlivesEnabled(false)
		err := h.server.Shutdown(ctx)
		if err != nil {
			h.logger.Error().Msgf("Could not gracefully shutdown the server: %v", err)
		}

		close(done)
	}()

	h.logger.Info().Msgf("Server is ready to handle requests at http://%s", ln.Addr())

	err = h.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Error().Msgf("Could not listen on %s: %v", h.listenAddr, err)
	}

	<-done

	h.Lock()
	h.ln = nil
	h.Unlock()

	h.logger.Info().Msg("Server stopped")
}

// Stop implements proxy.Proxy. It should be called only once in order to make a
// new Listen() successful.
func (h *HTTP) Stop() {
	// we don't close it so it can be called multiple times without harm
	select {
	case h.quit <- struct{}{}:
	default:
	}
}

// GetAddr implements proxy.Proxy. It returns the address of the listener, or
// nil if the server is not listening.
func (h *HTTP) GetAddr() net.Addr {
	h.Lock()
	defer h.Unlock()

	if h.ln == nil {
		return nil
	}

	return h.ln.Addr()
}

// RegisterHandler implements proxy.Proxy
func (h *HTTP) RegisterHandler(path string, handler func(http.ResponseWriter,
	*http.Request)) {

	h.mux.HandleFunc(path, handler)
}

// logging is a utility function that logs the http server events
func logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				requestID, ok := r.Context().Value(requestIDKey).(string)
				if !ok {
					requestID = "unknown"
				}
				logger.Info().Str("requestID", requestID).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Str("remoteAddr", r.RemoteAddr).
					Str("agent", r.UserAgent()).Msg("")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// tracing is a utility function that adds header tracing
func tracing(nextRequestID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = nextRequestID()
			}
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set("X-Request-Id", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
