package bus

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"corral/internal/codec"
	"corral/internal/events"
	"corral/internal/natstest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = natstest.RunServer(t)
	c, err := Connect(cfg, "corral-test", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

type echoHandler struct{ encs chan codec.Encoding }

func (h echoHandler) Handle(_ context.Context, raw []byte, enc codec.Encoding) ([]byte, error) {
	h.encs <- enc
	return append([]byte("reply:"), raw...), nil
}

func TestServerRequestReply(t *testing.T) {
	c := testClient(t)
	cfg := DefaultConfig()
	cfg.RequestSubject = "corral.test.requests." + time.Now().Format("150405.000000")

	h := echoHandler{encs: make(chan codec.Encoding, 2)}
	srv, err := NewServer(c, h, cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := c.Request(ctx, cfg.RequestSubject, []byte("ping"), "")
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != "reply:ping" {
		t.Errorf("reply = %q", reply)
	}
	if enc := <-h.encs; enc != codec.JSON {
		t.Errorf("encoding = %s, want json", enc)
	}

	if _, err := c.Request(ctx, cfg.RequestSubject, []byte("ping"), "protobuf"); err != nil {
		t.Fatal(err)
	}
	if enc := <-h.encs; enc != codec.Protobuf {
		t.Errorf("encoding = %s, want protobuf", enc)
	}
}

func TestNewServerRejectsBadEncoding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encoding = "xml"
	if _, err := NewServer(nil, nil, cfg, testLogger()); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestPublisherForwardsEvents(t *testing.T) {
	c := testClient(t)
	msgs := make(chan *nats.Msg, 1)
	sub, err := c.nc.ChanSubscribe(EventSubject(events.StoreFailed), msgs)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	emitter := events.NewEmitter(testLogger())
	NewPublisher(c, testLogger()).Attach(emitter)
	emitter.Emit(events.Event{Type: events.StoreFailed, Container: "web1", CorrelationID: "corr-1"})

	select {
	case msg := <-msgs:
		env, err := UnmarshalEnvelope(msg.Data)
		if err != nil {
			t.Fatal(err)
		}
		if env.Type != events.StoreFailed || env.CorrelationID != "corr-1" || env.Source != "corral-test" {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestProvisionStreamsRetainsEvents(t *testing.T) {
	c := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.ProvisionStreams(ctx); err != nil {
		t.Fatal(err)
	}
	ev := events.Event{Type: events.CommandCompleted, Container: "web1"}
	if err := c.PublishEvent(EventSubject(ev.Type), ev.Type, "corr-2", ev); err != nil {
		t.Fatal(err)
	}

	stream, err := c.JetStream().Stream(ctx, StreamConfigs[0].Name)
	if err != nil {
		t.Fatal(err)
	}
	cons, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := cons.Next(jetstream.FetchMaxWait(2 * time.Second))
	if err != nil {
		t.Fatalf("no event retained: %v", err)
	}
	env, err := UnmarshalEnvelope(msg.Data())
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != events.CommandCompleted || env.CorrelationID != "corr-2" {
		t.Errorf("envelope = %+v", env)
	}
}
