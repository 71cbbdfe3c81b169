package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tasknotify/project/internal/contracts"
)

// Queue binds one lifecycle event kind to its durable stream and subject.
type Queue struct {
	Stream  string
	Subject string
	Kind    string
	// Durable is the consumer name shared by every notification replica.
	Durable string
}

var Queues = []Queue{
	{Stream: "TASK_CREATED", Subject: "tasks.created", Kind: contracts.KindTaskAssigned, Durable: "notifications_task_created"},
	{Stream: "TASK_UPDATED", Subject: "tasks.updated", Kind: contracts.KindTaskUpdated, Durable: "notifications_task_updated"},
	{Stream: "TASK_DELETED", Subject: "tasks.deleted", Kind: contracts.KindTaskDeleted, Durable: "notifications_task_deleted"},
}

const (
	DeadLetterStream        = "TASK_DEAD_LETTER"
	DeadLetterSubjectPrefix = "tasks.dead."

	// dedupWindow bounds how long JetStream remembers Nats-Msg-Id values.
	dedupWindow = 2 * time.Minute
)

func QueueForKind(kind string) (Queue, bool) {
	for _, q := range Queues {
		if q.Kind == kind {
			return q, true
		}
	}
	return Queue{}, false
}

func DeadLetterSubject(q Queue) string {
	return DeadLetterSubjectPrefix + q.Stream
}

// StreamManager is the subset of nats.JetStreamContext used to declare streams.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// EnsureStreams creates (or validates) the durable work queues and the
// dead-letter stream.
func EnsureStreams(js StreamManager) error {
	for _, q := range Queues {
		if err := ensureStream(js, &nats.StreamConfig{
			Name:       q.Stream,
			Subjects:   []string{q.Subject},
			Retention:  nats.WorkQueuePolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: dedupWindow,
		}); err != nil {
			return err
		}
	}
	return ensureStream(js, &nats.StreamConfig{
		Name:      DeadLetterStream,
		Subjects:  []string{DeadLetterSubjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	})
}

func ensureStream(js StreamManager, cfg *nats.StreamConfig) error {
	if _, err := js.StreamInfo(cfg.Name); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(cfg); addErr != nil {
			return addErr
		}
	}
	return nil
}
