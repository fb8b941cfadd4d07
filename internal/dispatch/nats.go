package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"document-backend/internal/shared/metrics"
	"document-backend/internal/shared/resilience"
	"document-backend/internal/shared/telemetry"
)

const (
	DefaultSubject = "documents.analyze"
	queueGroup     = "workers"
)

// NATSOptions configures the NATS connection.
type NATSOptions struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// ConnectNATS dials NATS with reconnect handling.
func ConnectNATS(opts NATSOptions) (*nats.Conn, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}
	if opts.Name == "" {
		opts.Name = "document-backend"
	}
	conn, err := nats.Connect(
		opts.URL,
		nats.Name(opts.Name),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher hands document ids to remote workers.
type NATSPublisher struct {
	conn     publisher
	subject  string
	executor *resilience.Executor
	now      func() time.Time
}

// NewNATSPublisher constructs a publisher. A nil executor publishes directly.
func NewNATSPublisher(conn *nats.Conn, subject string, executor *resilience.Executor) *NATSPublisher {
	return newNATSPublisher(conn, subject, executor)
}

func newNATSPublisher(conn publisher, subject string, executor *resilience.Executor) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject, executor: executor, now: time.Now}
}

// Enqueue publishes documentID. It does not wait for the analysis.
func (p *NATSPublisher) Enqueue(ctx context.Context, documentID string) error {
	payload, err := EncodeMessage(Message{
		DocumentID: documentID,
		RequestID:  telemetry.RequestID(ctx),
		EnqueuedAt: p.now().UTC().Format(time.RFC3339Nano),
		Version:    messageVersion,
	})
	if err != nil {
		return err
	}

	call := func(context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		metrics.IncDispatchRejected("transport")
		return err
	}
	return nil
}

// NATSConsumer feeds a local Pool from a NATS queue group.
type NATSConsumer struct {
	conn    *nats.Conn
	subject string
	pool    *Pool
}

func NewNATSConsumer(conn *nats.Conn, subject string, pool *Pool) *NATSConsumer {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSConsumer{conn: conn, subject: subject, pool: pool}
}

// Run subscribes until ctx is done, then drains the subscription.
func (c *NATSConsumer) Run(ctx context.Context) error {
	sub, err := c.conn.QueueSubscribe(c.subject, queueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		c.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	telemetry.Info("worker.subscribed", map[string]any{"subject": c.subject, "queue_group": queueGroup})

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := c.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// handle runs on the subscription goroutine; blocking here applies
// backpressure to the subscription.
func (c *NATSConsumer) handle(ctx context.Context, data []byte) {
	msg, meta, err := ParseMessage(data)
	if err != nil {
		telemetry.Warn("dispatch.bad_message", map[string]any{
			"body_len": meta.BodyLen,
			"body_sha": meta.BodySHA,
			"error":    err,
		})
		return
	}
	if err := c.pool.EnqueueWait(telemetry.WithRequestID(ctx, msg.RequestID), msg.DocumentID); err != nil {
		telemetry.Warn("dispatch.rejected", map[string]any{
			"document_id": msg.DocumentID,
			"request_id":  msg.RequestID,
			"error":       err,
		})
	}
}

func classifyNATSError(err error) resilience.Class {
	if err == nil {
		return resilience.Class{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Class{}
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionReconnecting) {
		return resilience.Class{Retryable: true, RecordFailure: true}
	}
	return resilience.Class{RecordFailure: true}
}
