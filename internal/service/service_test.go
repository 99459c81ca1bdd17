package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"corral/internal/codec"
	"corral/internal/command"
	"corral/internal/container"
	"corral/internal/events"
	"corral/internal/pool"
	"corral/internal/request"
	"corral/internal/security"
	"corral/internal/status"
	"corral/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubDriver answers every operation through fn and counts calls.
type stubDriver struct {
	calls atomic.Int32
	fn    func(ctx context.Context, op string, req request.ContainerRequest) status.Status
}

func (d *stubDriver) call(ctx context.Context, op string, req request.ContainerRequest) status.Status {
	d.calls.Add(1)
	if d.fn == nil {
		id := req.ContainerID
		if op == "create" {
			id = "4f2a9c0d1e3b"
		}
		return status.OK(op+" ok", id)
	}
	return d.fn(ctx, op, req)
}

func (d *stubDriver) Available(ctx context.Context, r request.ContainerRequest) status.Status {
	return d.call(ctx, "available", r)
}
func (d *stubDriver) Create(ctx context.Context, r request.ContainerRequest) status.Status {
	return d.call(ctx, "create", r)
}
func (d *stubDriver) Start(ctx context.Context, r request.ContainerRequest) status.Status {
	return d.call(ctx, "start", r)
}
func (d *stubDriver) Stop(ctx context.Context, r request.ContainerRequest) status.Status {
	return d.call(ctx, "stop", r)
}
func (d *stubDriver) Restart(ctx context.Context, r request.ContainerRequest) status.Status {
	return d.call(ctx, "restart", r)
}
func (d *stubDriver) Remove(ctx context.Context, r request.ContainerRequest) status.Status {
	return d.call(ctx, "remove", r)
}

// failingStore rejects every write.
type failingStore struct{ *store.MemoryStore }

func (failingStore) Put(context.Context, store.Record) error {
	return errors.New("disk full")
}

type fixture struct {
	h       *Handler
	driver  *stubDriver
	store   store.Store
	pool    *pool.Pool
	emitted []events.Event
	mu      sync.Mutex
}

func (f *fixture) events(typ string) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, ev := range f.emitted {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixtureOpts struct {
	provider security.Provider
	store    store.Store
	pool     pool.Config
	timeout  time.Duration
	register func(f *command.Factory, d command.Driver)
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	logger := testLogger()
	f := &fixture{driver: &stubDriver{}}

	if o.provider == nil {
		o.provider = security.Null{}
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
	}
	if o.pool.Workers == 0 {
		o.pool = pool.Config{Workers: 2, QueueSize: 8}
	}
	f.store = o.store
	f.pool = pool.New(o.pool, logger)
	t.Cleanup(func() { f.pool.ShutdownNow() })

	factory := command.NewFactory(logger)
	if o.register != nil {
		o.register(factory, f.driver)
	} else {
		factory.RegisterDriver(request.Docker, request.CLI, f.driver)
		factory.RegisterDriver(request.Docker, request.API, f.driver)
		factory.RegisterDriver(request.Podman, request.CLI, f.driver)
	}

	emitter := events.NewEmitter(logger)
	emitter.OnEvent(func(ev events.Event) {
		f.mu.Lock()
		f.emitted = append(f.emitted, ev)
		f.mu.Unlock()
	})

	h, err := New(Options{
		Security: o.provider,
		Factory:  factory,
		Pool:     f.pool,
		Store:    o.store,
		Emitter:  emitter,
		Timeout:  o.timeout,
		Logger:   logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.h = h
	return f
}

func (f *fixture) handleJSON(t *testing.T, payload string) status.Status {
	t.Helper()
	out, err := f.h.Handle(context.Background(), []byte(payload), codec.JSON)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	st, err := codec.JSONCodec{}.DecodeStatus(out)
	if err != nil {
		t.Fatalf("decode reply %q: %v", out, err)
	}
	return st
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for missing collaborators")
	}
}

func TestCheckAvailableAgainstFakeBinary(t *testing.T) {
	tests := []struct {
		name    string
		exit    string
		success bool
		code    status.Code
	}{
		{"docker present", "exit 0", true, status.None},
		{"docker missing", "exit 127", false, status.RuntimeReportedError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := filepath.Join(t.TempDir(), "docker")
			if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+tt.exit+"\n"), 0o755); err != nil {
				t.Fatal(err)
			}
			f := newFixture(t, fixtureOpts{register: func(fac *command.Factory, _ command.Driver) {
				fac.RegisterDriver(request.Docker, request.CLI,
					container.NewCLIDriver(request.Docker, bin, nil, container.Options{CommandTimeout: 5 * time.Second}, testLogger()))
			}})

			st := f.handleJSON(t, `{"operation":"CheckAvailable","runtime":"Docker","accessMode":"CLI"}`)
			if st.Success != tt.success || st.ErrorCode != tt.code {
				t.Fatalf("status = %+v", st)
			}
			if st.CorrelationID == "" {
				t.Error("expected a correlation id")
			}
		})
	}
}

func TestCreateWithoutImageIsRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	st := f.handleJSON(t, `{"operation":"Create","runtime":"Docker","accessMode":"CLI","imageName":""}`)
	if st.Success || st.ErrorCode != status.DecodeError {
		t.Fatalf("status = %+v, want DecodeError", st)
	}
	if n := f.driver.calls.Load(); n != 0 {
		t.Errorf("driver called %d times", n)
	}
	if len(f.events(events.RequestRejected)) != 1 {
		t.Error("expected a rejection event")
	}
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    status.Code
	}{
		{"malformed", `{"operation":`, status.DecodeError},
		{"unknown operation", `{"operation":"Pause","runtime":"Docker","accessMode":"CLI"}`, status.UnrecognizedEnumValue},
		{"unknown runtime", `{"operation":"Start","runtime":"containerd","accessMode":"CLI","containerId":"a"}`, status.UnrecognizedEnumValue},
		{"missing container id", `{"operation":"Stop","runtime":"Docker","accessMode":"CLI"}`, status.DecodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{})
			st := f.handleJSON(t, tt.payload)
			if st.ErrorCode != tt.want {
				t.Errorf("code = %s, want %s (%s)", st.ErrorCode, tt.want, st.Message)
			}
			if f.driver.calls.Load() != 0 {
				t.Error("driver should not be called")
			}
		})
	}
}

func TestDecryptionFailure(t *testing.T) {
	key := make([]byte, security.KeySize)
	provider, err := security.NewAESGCM(key)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, fixtureOpts{provider: provider})

	out, err := f.h.Handle(context.Background(), []byte("definitely not sealed by us, long enough to parse"), codec.JSON)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := provider.Decrypt(out)
	if err != nil {
		t.Fatalf("reply is not sealed: %v", err)
	}
	st, err := codec.JSONCodec{}.DecodeStatus(plain)
	if err != nil {
		t.Fatal(err)
	}
	if st.ErrorCode != status.DecryptionError {
		t.Errorf("code = %s, want DecryptionError", st.ErrorCode)
	}
	if f.driver.calls.Load() != 0 {
		t.Error("driver should not be called")
	}
}

func TestSealedRoundTrip(t *testing.T) {
	key := make([]byte, security.KeySize)
	key[0] = 7
	provider, err := security.NewChaCha20Poly1305(key)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, fixtureOpts{provider: provider})

	body, err := codec.ProtobufCodec{}.EncodeRequest(request.ContainerRequest{
		Operation:   request.Start,
		Runtime:     request.Podman,
		AccessMode:  request.CLI,
		ContainerID: "web1",
	})
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := provider.Encrypt(body)
	if err != nil {
		t.Fatal(err)
	}

	out, err := f.h.Handle(context.Background(), sealed, codec.Protobuf)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := provider.Decrypt(out)
	if err != nil {
		t.Fatal(err)
	}
	st, err := codec.ProtobufCodec{}.DecodeStatus(plain)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Success || st.ContainerID != "web1" {
		t.Errorf("status = %+v", st)
	}
}

func TestUnknownEncoding(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if _, err := f.h.Handle(context.Background(), []byte("{}"), codec.Encoding("xml")); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestUnsupportedCombination(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	st := f.h.Execute(context.Background(), request.ContainerRequest{
		Operation:   request.Start,
		Runtime:     request.Podman,
		AccessMode:  request.API,
		ContainerID: "web1",
	})
	if st.ErrorCode != status.UnsupportedCombination {
		t.Fatalf("code = %s, want UnsupportedCombination", st.ErrorCode)
	}
	if f.driver.calls.Load() != 0 {
		t.Error("driver should not be called")
	}
}

func TestCreatePersistsRecord(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	st := f.h.Execute(context.Background(), request.ContainerRequest{
		Operation:     request.Create,
		Runtime:       request.Docker,
		AccessMode:    request.API,
		ImageName:     "nginx:latest",
		ContainerName: "web1",
		CorrelationID: "req-1",
	})
	if !st.Success || st.ContainerID != "4f2a9c0d1e3b" || st.CorrelationID != "req-1" {
		t.Fatalf("status = %+v", st)
	}

	rec, err := f.h.Lookup(context.Background(), "4f2a9c0d1e3b")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.StateCreated || rec.Request.ImageName != "nginx:latest" || !rec.Status.Success {
		t.Errorf("record = %+v", rec)
	}

	st = f.h.Execute(context.Background(), request.ContainerRequest{
		Operation:   request.Remove,
		Runtime:     request.Docker,
		AccessMode:  request.API,
		ContainerID: "4f2a9c0d1e3b",
	})
	if !st.Success {
		t.Fatalf("remove = %+v", st)
	}
	rec, err = f.h.Lookup(context.Background(), "4f2a9c0d1e3b")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.StateRemoved {
		t.Errorf("state = %s, want removed", rec.State)
	}
}

func TestCheckAvailableKeyedByCorrelation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	st := f.h.Execute(context.Background(), request.ContainerRequest{
		Operation:  request.CheckAvailable,
		Runtime:    request.Docker,
		AccessMode: request.CLI,
	})
	if !st.Success {
		t.Fatalf("status = %+v", st)
	}
	if _, err := f.h.Lookup(context.Background(), st.CorrelationID); err != nil {
		t.Errorf("lookup by correlation id: %v", err)
	}
}

func TestFailedCommandNotPersisted(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.driver.fn = func(context.Context, string, request.ContainerRequest) status.Status {
		return status.Fail(status.RuntimeReportedError, "No such container: web1")
	}
	st := f.h.Execute(context.Background(), request.ContainerRequest{
		Operation: request.Start, Runtime: request.Docker, AccessMode: request.CLI, ContainerID: "web1",
	})
	if st.ErrorCode != status.RuntimeReportedError {
		t.Fatalf("status = %+v", st)
	}
	if _, err := f.h.Lookup(context.Background(), "web1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("lookup err = %v, want ErrNotFound", err)
	}
	if evs := f.events(events.CommandCompleted); len(evs) != 1 || evs[0].Code != "RuntimeReportedError" {
		t.Errorf("completed events = %+v", evs)
	}
}

func TestPersistFailureKeepsSuccess(t *testing.T) {
	f := newFixture(t, fixtureOpts{store: failingStore{store.NewMemoryStore()}})
	st := f.h.Execute(context.Background(), request.ContainerRequest{
		Operation: request.Stop, Runtime: request.Docker, AccessMode: request.CLI, ContainerID: "web1",
	})
	if !st.Success || st.ErrorCode != status.None {
		t.Fatalf("status = %+v, want success", st)
	}
	if len(f.events(events.StoreFailed)) != 1 {
		t.Error("expected a store failure event")
	}
}

func TestQueueSaturated(t *testing.T) {
	f := newFixture(t, fixtureOpts{pool: pool.Config{Workers: 1, QueueSize: 1}})
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	defer close(release)
	f.driver.fn = func(context.Context, string, request.ContainerRequest) status.Status {
		started <- struct{}{}
		<-release
		return status.OK("released", "")
	}

	req := request.ContainerRequest{Operation: request.CheckAvailable, Runtime: request.Docker, AccessMode: request.CLI}
	go f.h.Execute(context.Background(), req)
	<-started
	go f.h.Execute(context.Background(), req)
	for f.pool.Stats().Queued == 0 {
		time.Sleep(time.Millisecond)
	}

	st := f.h.Execute(context.Background(), req)
	if st.ErrorCode != status.QueueSaturated {
		t.Fatalf("code = %s, want QueueSaturated", st.ErrorCode)
	}
}

func TestTimeout(t *testing.T) {
	f := newFixture(t, fixtureOpts{timeout: 50 * time.Millisecond})
	finished := make(chan struct{})
	release := make(chan struct{})
	f.driver.fn = func(context.Context, string, request.ContainerRequest) status.Status {
		<-release
		defer close(finished)
		return status.OK("container started", "web1")
	}

	start := time.Now()
	st := f.h.Execute(context.Background(), request.ContainerRequest{
		Operation: request.Start, Runtime: request.Docker, AccessMode: request.CLI, ContainerID: "web1",
	})
	if st.ErrorCode != status.Timeout {
		t.Fatalf("code = %s, want Timeout", st.ErrorCode)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute took %s", elapsed)
	}
	if len(f.events(events.RequestTimedOut)) != 1 {
		t.Error("expected a timeout event")
	}

	// The orphaned command still runs to completion; its result is dropped.
	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("orphaned command did not finish")
	}
	if _, err := f.store.Get(context.Background(), "web1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("late result was persisted: %v", err)
	}
}

func TestCallerDeadlineShortensTimeout(t *testing.T) {
	f := newFixture(t, fixtureOpts{timeout: time.Minute})
	release := make(chan struct{})
	defer close(release)
	f.driver.fn = func(context.Context, string, request.ContainerRequest) status.Status {
		<-release
		return status.OK("", "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	st := f.h.Execute(ctx, request.ContainerRequest{Operation: request.CheckAvailable, Runtime: request.Docker, AccessMode: request.CLI})
	if st.ErrorCode != status.Timeout {
		t.Errorf("code = %s, want Timeout", st.ErrorCode)
	}
}

func TestPanickingDriver(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.driver.fn = func(context.Context, string, request.ContainerRequest) status.Status {
		panic("nil map")
	}
	st := f.h.Execute(context.Background(), request.ContainerRequest{Operation: request.CheckAvailable, Runtime: request.Docker, AccessMode: request.CLI})
	if st.ErrorCode != status.InternalError {
		t.Errorf("code = %s, want InternalError", st.ErrorCode)
	}
}

func TestShutdownPoolRejects(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if err := f.pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := f.h.Execute(context.Background(), request.ContainerRequest{Operation: request.CheckAvailable, Runtime: request.Docker, AccessMode: request.CLI})
	if st.ErrorCode != status.Unavailable {
		t.Errorf("code = %s, want Unavailable", st.ErrorCode)
	}
}

func TestObserveUpdatesState(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	st := f.h.Execute(context.Background(), request.ContainerRequest{
		Operation: request.Start, Runtime: request.Docker, AccessMode: request.CLI, ContainerID: "web1",
	})
	if !st.Success {
		t.Fatal(st)
	}

	f.h.Observe(request.Docker, "web1", "web1", "die")
	rec, err := f.h.Lookup(context.Background(), "web1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.StateStopped {
		t.Errorf("state = %s, want stopped", rec.State)
	}

	// Other runtimes and unknown containers leave the store alone.
	f.h.Observe(request.Podman, "web1", "web1", "destroy")
	f.h.Observe(request.Docker, "other", "other", "start")
	if rec, _ := f.h.Lookup(context.Background(), "web1"); rec.State != store.StateStopped {
		t.Errorf("state = %s, want stopped", rec.State)
	}
	if _, err := f.h.Lookup(context.Background(), "other"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown container was recorded: %v", err)
	}
	if len(f.events(events.ContainerObserved)) != 3 {
		t.Error("expected three observed events")
	}
}
