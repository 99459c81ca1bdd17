package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"corral/internal/codec"
)

// Handler turns a raw request payload into a raw reply.
type Handler interface {
	Handle(ctx context.Context, raw []byte, enc codec.Encoding) ([]byte, error)
}

// Server answers requests arriving on a queue subscription. Each message is
// handled on its own goroutine so a slow command does not hold up the
// subscription; backpressure comes from the handler's worker pool.
type Server struct {
	client  *Client
	handler Handler
	subject string
	queue   string
	enc     codec.Encoding
	logger  *slog.Logger

	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Shutdown's Wait.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewServer validates the configured encoding and prepares a server.
func NewServer(client *Client, handler Handler, cfg Config, logger *slog.Logger) (*Server, error) {
	enc, err := codec.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("nats transport: %w", err)
	}
	subject, queue := cfg.RequestSubject, cfg.QueueGroup
	if subject == "" {
		subject = SubjectRequests
	}
	if queue == "" {
		queue = DefaultQueueGroup
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		client:  client,
		handler: handler,
		subject: subject,
		queue:   queue,
		enc:     enc,
		logger:  logger.With("component", "nats-transport"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start subscribes to the request subject.
func (s *Server) Start() error {
	sub, err := s.client.nc.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("nats transport listening", "subject", s.subject, "queue", s.queue, "encoding", string(s.enc))
	return nil
}

func (s *Server) serve(msg *nats.Msg) {
	enc := s.enc
	if h := msg.Header.Get(HeaderEncoding); h != "" {
		parsed, err := codec.ParseEncoding(h)
		if err != nil {
			s.logger.Warn("ignoring request with unknown encoding", "encoding", h)
			return
		}
		enc = parsed
	}

	reply, err := s.handler.Handle(s.ctx, msg.Data, enc)
	if err != nil {
		s.logger.Error("request produced no reply", "error", err)
		return
	}
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.logger.Warn("respond failed", "error", err)
	}
}

// Shutdown stops taking requests and waits for in-flight ones to reply, or
// for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", "error", err)
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}
