package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docsign/internal/infrastructure/resilience"
)

// defaultAckTimeout bounds acknowledgment delivery once a request has been
// handled.
const defaultAckTimeout = 10 * time.Second

// publisher is the part of *nats.Conn used to deliver acknowledgments.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Queue consumes signing requests and publishes acknowledgments.
type Queue struct {
	conn           *nats.Conn
	sink           publisher
	requestSubject string
	ackSubject     string
	queueGroup     string
	subscribers    int
	processTimeout time.Duration
	ackTimeout     time.Duration
	executor       *resilience.Executor
	onAck          func(error)
	logger         *slog.Logger
}

type Options struct {
	AckSubject           string
	QueueGroup           string
	Subscribers          int
	ProcessTimeout       time.Duration
	// AckTimeout bounds publishing the acknowledgment and the reply. It runs
	// on its own clock, after the request handler returns.
	AckTimeout           time.Duration
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// AckObserver is called with the outcome of every acknowledgment publish.
	AckObserver          func(error)
	Logger               *slog.Logger
}

func New(url, requestSubject string) (*Queue, error) {
	return NewWithOptions(url, requestSubject, Options{})
}

func NewWithOptions(url, requestSubject string, options Options) (*Queue, error) {
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
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docsign"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newQueue(conn, requestSubject, options, logger), nil
}

func newQueue(conn *nats.Conn, requestSubject string, options Options, logger *slog.Logger) *Queue {
	ackSubject := options.AckSubject
	if ackSubject == "" {
		ackSubject = requestSubject + "-ack"
	}
	queueGroup := options.QueueGroup
	if queueGroup == "" {
		queueGroup = "docsign-workers"
	}
	ackTimeout := options.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	q := &Queue{
		conn:           conn,
		requestSubject: requestSubject,
		ackSubject:     ackSubject,
		queueGroup:     queueGroup,
		subscribers:    max(options.Subscribers, 1),
		processTimeout: options.ProcessTimeout,
		ackTimeout:     ackTimeout,
		executor:       options.ResilienceExecutor,
		onAck:          options.AckObserver,
		logger:         logger,
	}
	if conn != nil {
		q.sink = conn
	}
	return q
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Healthy reports whether the connection to the broker is up.
func (q *Queue) Healthy() bool {
	return q.conn != nil && q.conn.IsConnected()
}

func (q *Queue) PublishAcknowledgment(ctx context.Context, payload []byte) error {
	return q.publish(ctx, q.ackSubject, payload)
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	if q.sink == nil {
		return publishError(subject, nats.ErrConnectionClosed)
	}
	call := func(_ context.Context) error {
		if err := q.sink.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return publishError(subject, err)
}

// SubscribeSigningRequests runs handler for every request delivered to the
// queue group until ctx is done. The returned acknowledgment is published on
// the ack subject and, for request-reply callers, sent as the reply.
func (q *Queue) SubscribeSigningRequests(ctx context.Context, handler func(context.Context, []byte) ([]byte, error)) error {
	subs := make([]*nats.Subscription, 0, q.subscribers)
	for i := 0; i < q.subscribers; i++ {
		sub, err := q.conn.QueueSubscribe(q.requestSubject, q.queueGroup, func(msg *nats.Msg) {
			q.handle(ctx, msg, handler)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("nats subscribe: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("nats_subscribed",
		"subject", q.requestSubject,
		"queue_group", q.queueGroup,
		"subscribers", len(subs),
	)

	<-ctx.Done()
	var drainErr error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			drainErr = errors.Join(drainErr, err)
		}
	}
	if drainErr != nil {
		return fmt.Errorf("nats drain subscription: %w", drainErr)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handle(ctx context.Context, msg *nats.Msg, handler func(context.Context, []byte) ([]byte, error)) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	// Draining must not abort requests already delivered.
	base := context.WithoutCancel(ctx)
	var (
		handlerCtx context.Context
		cancel     context.CancelFunc
	)
	if q.processTimeout > 0 {
		handlerCtx, cancel = context.WithTimeout(base, q.processTimeout)
	} else {
		handlerCtx, cancel = context.WithCancel(base)
	}
	defer cancel()

	ack, err := handler(handlerCtx, msg.Data)
	if err != nil {
		q.logger.Error("signing_request_handler_failed", "subject", msg.Subject, "error", err)
		return
	}
	if ack == nil {
		return
	}

	// The handler may have used up the processing budget; the
	// acknowledgment still goes out.
	ackCtx, ackCancel := context.WithTimeout(base, q.ackTimeout)
	defer ackCancel()

	err = q.publish(ackCtx, q.ackSubject, ack)
	if err != nil {
		q.logger.Error("ack_publish_failed", "subject", q.ackSubject, "error", err)
	}
	if q.onAck != nil {
		q.onAck(err)
	}
	if msg.Reply != "" {
		if err := q.publish(ackCtx, msg.Reply, ack); err != nil {
			q.logger.Error("ack_reply_failed", "reply", msg.Reply, "error", err)
		}
	}
}
