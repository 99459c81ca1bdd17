// Package api serves the HTTP transport: the /execute endpoint plus the
// read-only record, event and health routes for operators.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"corral/internal/codec"
	"corral/internal/events"
	"corral/internal/metrics"
	"corral/internal/pool"
	"corral/internal/security"
	"corral/internal/service"
	"corral/internal/store"
)

// HeaderEncoding overrides the configured encoding for one request.
const HeaderEncoding = "Corral-Encoding"

// Options configures the HTTP server.
type Options struct {
	Handler      *service.Handler
	Emitter      *events.Emitter
	PoolStats    func() pool.Stats
	Encoding     codec.Encoding
	MaxBodyBytes int64
	RateLimit    float64 // requests per second across all clients, 0 disables
	Burst        int
	AuthToken    string
	Logger       *slog.Logger
}

// Server is the HTTP front end of the request pipeline.
type Server struct {
	handler   *service.Handler
	events    *events.Emitter
	poolStats func() pool.Stats
	enc       codec.Encoding
	maxBody   int64
	limiter   *rate.Limiter
	authToken string
	logger    *slog.Logger
	startAt   time.Time

	// closed when shutdown begins so event streams let go of their
	// connections.
	closing   chan struct{}
	closeOnce sync.Once
}

func NewServer(opts Options) *Server {
	l := opts.Logger.With("component", "http")
	if opts.AuthToken == "" {
		l.Warn("record routes have no auth token configured, all requests will be allowed")
	}
	if opts.Encoding == "" {
		opts.Encoding = codec.JSON
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Server{
		handler:   opts.Handler,
		events:    opts.Emitter,
		poolStats: opts.PoolStats,
		enc:       opts.Encoding,
		maxBody:   opts.MaxBodyBytes,
		limiter:   limiter,
		authToken: opts.AuthToken,
		logger:    l,
		startAt:   time.Now(),
		closing:   make(chan struct{}),
	}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /v1/containers", s.authMiddleware(http.HandlerFunc(s.listRecords)))
	mux.Handle("GET /v1/containers/{key}", s.authMiddleware(http.HandlerFunc(s.getRecord)))
	if s.events != nil {
		mux.Handle("GET /v1/events", s.authMiddleware(http.HandlerFunc(s.handleSSE)))
	}
	return mux
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			auth := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+s.authToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	enc := s.enc
	if h := r.Header.Get(HeaderEncoding); h != "" {
		parsed, err := codec.ParseEncoding(h)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		enc = parsed
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	reply, err := s.handler.Handle(r.Context(), body, enc)
	if err != nil {
		s.logger.Error("no reply produced", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ct := enc.ContentType()
	if s.handler.Security().Name() != security.None {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set(HeaderEncoding, string(enc))
	w.Write(reply)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.handler.Records(r.Context())
	if err != nil {
		s.logger.Error("list records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, err := s.handler.Lookup(r.Context(), key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case err != nil:
		s.logger.Error("get record failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startAt).Seconds(),
		"store":          s.handler.Store().Backend(),
	}
	if s.poolStats != nil {
		st := s.poolStats()
		resp["pool"] = st
		if st.Closed {
			resp["status"] = "draining"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSSE streams events as Server-Sent Events.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := make(chan events.Event, 64)
	id := s.events.OnEvent(func(ev events.Event) {
		select {
		case ch <- ev:
		default: // drop if client is slow
		}
	})
	defer s.events.RemoveHandler(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case ev := <-ch:
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, drain time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, drain)
}

// Serve accepts connections on ln until ctx is cancelled, then stops
// accepting and waits up to drain for in-flight requests to finish. It
// returns only once shutdown has completed, so replies are written before
// the caller closes the pool and store.
func (s *Server) Serve(ctx context.Context, ln net.Listener, drain time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		s.closeOnce.Do(func() { close(s.closing) })
		shutCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.logger.Warn("http shutdown incomplete", "error", err)
		}
	}()

	s.logger.Info("http server starting", "addr", ln.Addr().String(), "encoding", string(s.enc))
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	s.logger.Info("http server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
