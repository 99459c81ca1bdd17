// Package service is the request pipeline shared by every transport: it
// unseals a payload, decodes and validates the request, dispatches the bound
// command on the worker pool, records the outcome and seals the reply.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"corral/internal/codec"
	"corral/internal/command"
	"corral/internal/events"
	"corral/internal/logging"
	"corral/internal/pool"
	"corral/internal/request"
	"corral/internal/security"
	"corral/internal/status"
	"corral/internal/store"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultStoreTimeout = 5 * time.Second
)

// Submitter accepts tasks for asynchronous execution. *pool.Pool satisfies it.
type Submitter interface {
	Submit(task pool.Task) (*pool.Future, error)
}

// Options carries the handler's collaborators. Security, Codecs, Factory,
// Pool and Store are required.
type Options struct {
	Security     security.Provider
	Codecs       codec.Set
	Factory      *command.Factory
	Pool         Submitter
	Store        store.Store
	Emitter      *events.Emitter
	Timeout      time.Duration
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// Handler turns raw request payloads into sealed Status replies.
type Handler struct {
	security     security.Provider
	codecs       codec.Set
	factory      *command.Factory
	pool         Submitter
	store        store.Store
	emitter      *events.Emitter
	timeout      time.Duration
	storeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func New(opts Options) (*Handler, error) {
	switch {
	case opts.Security == nil:
		return nil, errors.New("service: security provider is required")
	case opts.Factory == nil:
		return nil, errors.New("service: command factory is required")
	case opts.Pool == nil:
		return nil, errors.New("service: pool is required")
	case opts.Store == nil:
		return nil, errors.New("service: store is required")
	}
	if opts.Codecs == nil {
		opts.Codecs = codec.DefaultSet()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter(opts.Logger)
	}
	return &Handler{
		security:     opts.Security,
		codecs:       opts.Codecs,
		factory:      opts.Factory,
		pool:         opts.Pool,
		store:        opts.Store,
		emitter:      opts.Emitter,
		timeout:      opts.Timeout,
		storeTimeout: opts.StoreTimeout,
		logger:       opts.Logger.With("component", "service"),
		now:          time.Now,
	}, nil
}

// Handle runs the full pipeline on a raw payload and returns the sealed
// reply. Every request failure is reported inside the reply; the error is
// non-nil only when no reply can be produced in enc.
func (h *Handler) Handle(ctx context.Context, raw []byte, enc codec.Encoding) ([]byte, error) {
	c, err := h.codecs.Lookup(enc)
	if err != nil {
		return nil, fmt.Errorf("handle request: %w", err)
	}
	return h.Seal(h.unseal(ctx, raw, c), enc)
}

func (h *Handler) unseal(ctx context.Context, raw []byte, c codec.Codec) status.Status {
	plain, err := h.security.Decrypt(raw)
	if err != nil {
		return h.reject(request.ContainerRequest{CorrelationID: uuid.NewString()}, status.DecryptionError,
			fmt.Sprintf("decrypt request: %v", err))
	}
	req, err := c.DecodeRequest(plain)
	if err != nil {
		return h.reject(request.ContainerRequest{CorrelationID: uuid.NewString()}, decodeCode(err),
			fmt.Sprintf("decode request: %v", err))
	}
	return h.Execute(ctx, req)
}

// Execute runs the pipeline from an already decoded request: validate,
// dispatch on the pool, wait up to the request timeout and record the
// outcome.
func (h *Handler) Execute(ctx context.Context, req request.ContainerRequest) status.Status {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	logger := h.logger.With(
		"correlation_id", req.CorrelationID,
		"operation", req.Operation.String(),
		"runtime", req.Runtime.String(),
		"access_mode", req.AccessMode.String(),
	)

	if err := req.Validate(); err != nil {
		return h.reject(req, decodeCode(err), err.Error())
	}
	cmd, err := h.factory.Create(req)
	if err != nil {
		return h.reject(req, status.UnsupportedCombination, err.Error())
	}

	submitted := h.now()
	fut, err := h.pool.Submit(func(pctx context.Context) status.Status {
		inv := command.NewInvoker(cmd, logger)
		st := inv.Execute(logging.WithContext(pctx, logger))
		h.emitter.Emit(events.Event{
			Type:          events.CommandCompleted,
			Container:     firstNonEmpty(st.ContainerID, req.Target()),
			Operation:     req.Operation.String(),
			Runtime:       req.Runtime.String(),
			AccessMode:    req.AccessMode.String(),
			Code:          st.ErrorCode.String(),
			CorrelationID: req.CorrelationID,
			Duration:      h.now().Sub(submitted),
		})
		return st
	})
	switch {
	case errors.Is(err, pool.ErrQueueSaturated):
		return h.reject(req, status.QueueSaturated, "worker queue is full, retry later")
	case errors.Is(err, pool.ErrClosed):
		return h.reject(req, status.Unavailable, "service is shutting down")
	case err != nil:
		return h.reject(req, status.InternalError, err.Error())
	}

	wctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	st, err := fut.Wait(wctx)
	if err != nil {
		if errors.Is(err, pool.ErrDiscarded) {
			return h.reject(req, status.Unavailable, "request discarded during shutdown")
		}
		return h.timedOut(req, fut, logger)
	}

	if st.Success {
		h.persist(ctx, req, st, logger)
		logger.Info("request completed", "container_id", st.ContainerID, "duration", h.now().Sub(submitted))
	} else {
		logger.Warn("request failed", "code", st.ErrorCode.String(), "message", st.Message)
	}
	return st.WithCorrelation(req.CorrelationID)
}

// Seal encodes and encrypts st for the reply.
func (h *Handler) Seal(st status.Status, enc codec.Encoding) ([]byte, error) {
	c, err := h.codecs.Lookup(enc)
	if err != nil {
		return nil, fmt.Errorf("seal status: %w", err)
	}
	data, err := c.EncodeStatus(st)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	out, err := h.security.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("encrypt status: %w", err)
	}
	return out, nil
}

// Security returns the provider used to unseal requests and seal replies.
func (h *Handler) Security() security.Provider { return h.security }

// Store returns the backend outcomes are recorded in.
func (h *Handler) Store() store.Store { return h.store }

func (h *Handler) reject(req request.ContainerRequest, code status.Code, msg string) status.Status {
	h.logger.Warn("request rejected", "correlation_id", req.CorrelationID, "code", code.String(), "reason", msg)
	h.emitter.Emit(events.Event{
		Type:          events.RequestRejected,
		Container:     req.Target(),
		Operation:     req.Operation.String(),
		Code:          code.String(),
		CorrelationID: req.CorrelationID,
	})
	return status.Fail(code, msg).WithCorrelation(req.CorrelationID)
}

func (h *Handler) timedOut(req request.ContainerRequest, fut *pool.Future, logger *slog.Logger) status.Status {
	logger.Warn("request timed out, result will be dropped", "timeout", h.timeout)
	h.emitter.Emit(events.Event{
		Type:          events.RequestTimedOut,
		Container:     req.Target(),
		Operation:     req.Operation.String(),
		Runtime:       req.Runtime.String(),
		AccessMode:    req.AccessMode.String(),
		Code:          status.Timeout.String(),
		CorrelationID: req.CorrelationID,
	})
	go func() {
		<-fut.Done()
		st, _ := fut.Wait(context.Background())
		logger.Warn("dropped late result", "success", st.Success, "container_id", st.ContainerID, "code", st.ErrorCode.String())
	}()
	return status.Failf(status.Timeout, "%s did not complete within the request timeout", req.Operation).
		WithCorrelation(req.CorrelationID)
}

// persist records a successful outcome. Failures are logged and reported
// as events; they never change the status returned to the caller.
func (h *Handler) persist(ctx context.Context, req request.ContainerRequest, st status.Status, logger *slog.Logger) {
	rec := store.Record{
		Key:       recordKey(req, st),
		Request:   req,
		Status:    st.WithCorrelation(req.CorrelationID),
		State:     store.StateAfter(req.Operation),
		UpdatedAt: h.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.storeTimeout)
	defer cancel()
	if err := h.store.Put(ctx, rec); err != nil {
		logger.Error("persist result failed", "key", rec.Key, "backend", h.store.Backend(), "error", err)
		h.emitter.Emit(events.Event{
			Type:          events.StoreFailed,
			Container:     rec.Key,
			Operation:     req.Operation.String(),
			Code:          status.StorageError.String(),
			CorrelationID: req.CorrelationID,
			Fields:        map[string]string{"error": err.Error()},
		})
	}
}

// recordKey prefers the container id reported by the runtime, then the one
// in the request, then the correlation id.
func recordKey(req request.ContainerRequest, st status.Status) string {
	return firstNonEmpty(st.ContainerID, req.ContainerID, req.CorrelationID)
}

func decodeCode(err error) status.Code {
	if errors.Is(err, request.ErrUnrecognizedEnum) {
		return status.UnrecognizedEnumValue
	}
	return status.DecodeError
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
