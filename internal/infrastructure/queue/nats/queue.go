package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rayanical/dining-bot-publish/internal/infrastructure/resilience"
)

const (
	DefaultIngestedSubject  = "menu.ingested"
	DefaultRefreshedSubject = "catalog.refreshed"
	workerQueueGroup        = "workers"
)

// Queue carries catalog lifecycle events. menu.ingested is consumed by one
// worker of the queue group; catalog.refreshed fans out to every subscriber.
type Queue struct {
	conn             *nats.Conn
	ingestedSubject  string
	refreshedSubject string
	executor         *resilience.Executor
}

type Options struct {
	IngestedSubject      string
	RefreshedSubject     string
	ClientName           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string) (*Queue, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*Queue, error) {
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
	name := options.ClientName
	if name == "" {
		name = "dining-bot"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:             conn,
		ingestedSubject:  orDefault(options.IngestedSubject, DefaultIngestedSubject),
		refreshedSubject: orDefault(options.RefreshedSubject, DefaultRefreshedSubject),
		executor:         options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishMenuIngested announces new menu rows. servingDate may be empty.
func (q *Queue) PublishMenuIngested(ctx context.Context, servingDate string) error {
	return q.publish(ctx, q.ingestedSubject, []byte(servingDate))
}

func (q *Queue) PublishCatalogRefreshed(ctx context.Context, generation uint64) error {
	return q.publish(ctx, q.refreshedSubject, encodeGeneration(generation))
}

func (q *Queue) SubscribeMenuIngested(ctx context.Context, handler func(context.Context, string) error) error {
	return q.subscribe(ctx, q.ingestedSubject, workerQueueGroup, func(handlerCtx context.Context, msg *nats.Msg) error {
		return handler(handlerCtx, string(msg.Data))
	})
}

// SubscribeCatalogRefreshed delivers every refresh to this subscriber so each
// API replica reloads its own snapshot.
func (q *Queue) SubscribeCatalogRefreshed(ctx context.Context, handler func(context.Context, uint64) error) error {
	return q.subscribe(ctx, q.refreshedSubject, "", func(handlerCtx context.Context, msg *nats.Msg) error {
		generation, err := decodeGeneration(msg.Data)
		if err != nil {
			return err
		}
		return handler(handlerCtx, generation)
	})
}

func (q *Queue) publish(ctx context.Context, subject string, data []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapUnavailableIfNeeded(err)
	}
	return nil
}

func (q *Queue) subscribe(ctx context.Context, subject, group string, handle func(context.Context, *nats.Msg) error) error {
	callback := func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handle(handlerCtx, msg); err != nil {
			slog.Error("queue_handler_failed", "subject", subject, "payload", string(msg.Data), "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group != "" {
		sub, err = q.conn.QueueSubscribe(subject, group, callback)
	} else {
		sub, err = q.conn.Subscribe(subject, callback)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
