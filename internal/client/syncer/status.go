package syncer

import (
	"log/slog"
)

type Kind string

const (
	KindSent         Kind = "sent"
	KindQueued       Kind = "queued"
	KindSendFailed   Kind = "send-failed"
	KindUnsupported  Kind = "unsupported"
	KindOffline      Kind = "offline"
	KindQueueEmpty   Kind = "queue-empty"
	KindFlushed      Kind = "flushed"
	KindFlushPartial Kind = "flush-partial"
	KindDrainBusy    Kind = "drain-busy"
	KindDeadLettered Kind = "dead-lettered"
	KindStorageError Kind = "storage-error"
)

// Status is one user-facing outcome.
type Status struct {
	Kind     Kind
	Message  string
	RecordID string
	Err      error
}

// Notifier receives statuses. Notify must not block.
type Notifier interface {
	Notify(status Status)
}

type LogNotifier struct{}

func (LogNotifier) Notify(status Status) {
	attrs := []any{"kind", status.Kind}
	if status.RecordID != "" {
		attrs = append(attrs, "record", status.RecordID)
	}
	if status.Err != nil {
		attrs = append(attrs, "error", status.Err)
	}
	switch status.Kind {
	case KindStorageError:
		slog.Error(status.Message, attrs...)
	case KindSendFailed, KindUnsupported, KindOffline, KindFlushPartial, KindDeadLettered:
		slog.Warn(status.Message, attrs...)
	default:
		slog.Info(status.Message, attrs...)
	}
}
