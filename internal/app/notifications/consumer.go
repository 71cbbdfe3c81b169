package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tasknotify/project/internal/contracts"
	"github.com/tasknotify/project/internal/messaging"
	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/metrics"
)

// Disposition is what the consumer does with a delivered message.
type Disposition int

const (
	Ack Disposition = iota
	// Retry leaves the message for broker redelivery.
	Retry
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

const HeaderDeadReason = "Task-Dead-Reason"

var ErrKindMismatch = errors.New("event kind does not match queue")

// JetStream is the part of nats.JetStreamContext the consumer uses.
type JetStream interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Consumer struct {
	Service    *Service
	Logger     *slog.Logger
	MaxDeliver int
	AckWait    time.Duration
	Timeout    time.Duration
}

func NewConsumer(service *Service, logger *slog.Logger, cfg config.Consumer) *Consumer {
	return &Consumer{
		Service:    service,
		Logger:     logger,
		MaxDeliver: cfg.MaxDeliver,
		AckWait:    cfg.AckWait,
		Timeout:    cfg.Timeout,
	}
}

// Subscribe binds one durable queue subscription per lifecycle queue. It is
// registered as a broker connect hook, so it runs again after a fresh connect.
func (c *Consumer) Subscribe(js JetStream) error {
	for _, q := range messaging.Queues {
		_, err := js.QueueSubscribe(q.Subject, q.Durable, c.handler(js, q),
			nats.Durable(q.Durable),
			nats.BindStream(q.Stream),
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(c.AckWait),
			nats.MaxDeliver(c.MaxDeliver),
		)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", q.Stream, err)
		}
		c.Logger.Info("consumer subscribed", "stream", q.Stream, "subject", q.Subject, "durable", q.Durable)
	}
	return nil
}

func (c *Consumer) handler(js JetStream, q messaging.Queue) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var delivered uint64 = 1
		if meta, err := msg.Metadata(); err == nil {
			delivered = meta.NumDelivered
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()

		disposition, reason := c.Handle(ctx, q, msg.Data, delivered)
		switch disposition {
		case Ack:
			// The notification is already stored; a lost ack means a duplicate on redelivery.
			if err := msg.Ack(); err != nil {
				c.Logger.Error("ack failed", "stream", q.Stream, "error", err)
			}
		case Retry:
			if err := msg.Nak(); err != nil {
				c.Logger.Warn("nak failed", "stream", q.Stream, "error", err)
			}
		case DeadLetter:
			if err := c.deadLetter(js, q, msg.Data, reason); err != nil {
				c.Logger.Error("dead-letter publish failed", "stream", q.Stream, "error", err)
				if err := msg.Nak(); err != nil {
					c.Logger.Warn("nak failed", "stream", q.Stream, "error", err)
				}
				return
			}
			if err := msg.Term(); err != nil {
				c.Logger.Warn("term failed", "stream", q.Stream, "error", err)
			}
		}
	}
}

// Handle decodes, renders and stores one delivery. delivered is the broker's
// delivery count for the message, starting at 1.
func (c *Consumer) Handle(ctx context.Context, q messaging.Queue, payload []byte, delivered uint64) (Disposition, error) {
	event, err := contracts.DecodeLifecycleEvent(payload)
	if err != nil {
		metrics.IncEventConsumed(q.Kind, metrics.ResultDead)
		c.Logger.Warn("discarding invalid event payload", "stream", q.Stream, "error", err)
		return DeadLetter, err
	}
	if event.Type != q.Kind {
		err := fmt.Errorf("%w: got %s on %s", ErrKindMismatch, event.Type, q.Stream)
		metrics.IncEventConsumed(q.Kind, metrics.ResultDead)
		c.Logger.Warn("discarding misrouted event", "event_id", event.EventID, "error", err)
		return DeadLetter, err
	}

	n, err := c.Service.Record(ctx, event, payload)
	if err != nil {
		if c.MaxDeliver > 0 && delivered >= uint64(c.MaxDeliver) {
			metrics.IncEventConsumed(q.Kind, metrics.ResultDead)
			c.Logger.Error("event exhausted deliveries",
				"event_id", event.EventID,
				"delivered", delivered,
				"error", err,
			)
			return DeadLetter, err
		}
		metrics.IncEventConsumed(q.Kind, metrics.ResultRetry)
		c.Logger.Warn("notification persistence failed, awaiting redelivery",
			"event_id", event.EventID,
			"delivered", delivered,
			"error", err,
		)
		return Retry, err
	}

	metrics.IncEventConsumed(q.Kind, metrics.ResultOK)
	c.Logger.Debug("notification stored",
		"notification_id", n.ID,
		"event_id", event.EventID,
		"user_id", n.UserID,
	)
	return Ack, nil
}

func (c *Consumer) deadLetter(js JetStream, q messaging.Queue, payload []byte, reason error) error {
	msg := nats.NewMsg(messaging.DeadLetterSubject(q))
	msg.Data = payload
	if reason != nil {
		msg.Header.Set(HeaderDeadReason, reason.Error())
	}
	_, err := js.PublishMsg(msg)
	return err
}
