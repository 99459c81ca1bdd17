package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds the NATS connection and transport settings. An empty URL
// disables the bus.
type Config struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`

	RequestSubject string `yaml:"request_subject"`
	QueueGroup     string `yaml:"queue_group"`
	Encoding       string `yaml:"encoding"`
	PublishEvents  bool   `yaml:"publish_events"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            "nats://localhost:4222",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // infinite
		RequestSubject: SubjectRequests,
		QueueGroup:     DefaultQueueGroup,
		Encoding:       "json",
	}
}

// Enabled reports whether a server URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	source string
	logger *slog.Logger
}

// Connect dials NATS and sets up JetStream.
func Connect(cfg Config, source string, logger *slog.Logger) (*Client, error) {
	logger = logger.With("component", "bus")
	opts := []nats.Option{
		nats.Name(source),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream: %w", err)
	}

	return &Client{
		nc:     nc,
		js:     js,
		source: source,
		logger: logger,
	}, nil
}

// JetStream returns the underlying JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Publish publishes an envelope to the given subject.
func (c *Client) Publish(subject string, env Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return c.nc.Publish(subject, data)
}

// PublishEvent wraps payload in an envelope tagged with correlationID and
// publishes it.
func (c *Client) PublishEvent(subject, eventType, correlationID string, payload any) error {
	env, err := NewEnvelope(eventType, c.source, payload)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return c.Publish(subject, env.WithCorrelation(correlationID))
}

// Request sends a raw payload and waits for the raw reply. The encoding
// header tells the responder how the payload is encoded.
func (c *Client) Request(ctx context.Context, subject string, payload []byte, encoding string) ([]byte, error) {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	if encoding != "" {
		msg.Header.Set(HeaderEncoding, encoding)
	}
	reply, err := c.nc.RequestMsgWithContext(ctx, msg)
	if errors.Is(err, nats.ErrNoResponders) {
		return nil, fmt.Errorf("request %s: no service is listening", subject)
	}
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	return reply.Data, nil
}

// ProvisionStreams creates or updates the JetStream streams events are
// retained in.
func (c *Client) ProvisionStreams(ctx context.Context) error {
	for _, cfg := range StreamConfigs {
		if _, err := c.js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("provision stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}
