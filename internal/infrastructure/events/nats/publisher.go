package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/resilience"
)

// Publisher broadcasts document lifecycle events on NATS. Events are a
// side-channel for downstream consumers; processing never depends on a
// publish succeeding, and an unconfigured publisher silently drops events.
type Publisher struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string) (*Publisher, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Publisher, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" || subject == "" {
		logger.Info("event_publishing_disabled")
		return &Publisher{logger: logger}, nil
	}

	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("kbpipe"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) PublishProcessingEvent(ctx context.Context, event domain.ProcessingEvent) error {
	if p.conn == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal processing event: %w", err)
	}
	subject := eventSubject(p.subject, event.Type)

	call := func(_ context.Context) error {
		if err := p.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var publishErr error
	if p.executor != nil {
		publishErr = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		publishErr = call(ctx)
	}
	if publishErr != nil {
		return wrapTemporaryIfNeeded(publishErr)
	}
	return nil
}

// eventSubject appends the event type to the base subject, so consumers can
// subscribe to a single outcome ("events.documents.processing.failed") or the
// whole stream with a wildcard.
func eventSubject(base string, eventType domain.EventType) string {
	if eventType == "" {
		return base
	}
	return base + "." + string(eventType)
}
