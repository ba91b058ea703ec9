package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CaptureRecord is one photo waiting for delivery. Records are immutable once queued.
type CaptureRecord struct {
	ID        string `json:"id"`
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"createdAt"`
}

// DeadLetter is a record that the server rejected permanently.
type DeadLetter struct {
	Record   CaptureRecord
	Reason   string
	FailedAt int64
}

// NewRecord creates a record stamped with now. IDs start with the epoch
// milliseconds so they sort by creation.
func NewRecord(payload string, now time.Time) CaptureRecord {
	ms := now.UnixMilli()
	return CaptureRecord{
		ID:        generateID(ms),
		Payload:   payload,
		CreatedAt: ms,
	}
}

func generateID(ms int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%013d-%s", ms, suffix[:12])
}
