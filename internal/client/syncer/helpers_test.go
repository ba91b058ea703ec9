package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/photoqueue/internal/client/queue"
)

// scriptedUploader answers uploads from a per-payload table; unknown payloads succeed.
type scriptedUploader struct {
	mu       sync.Mutex
	failures map[string]error
	uploaded []string
	block    chan struct{}
}

func newScriptedUploader() *scriptedUploader {
	return &scriptedUploader{failures: map[string]error{}}
}

func (u *scriptedUploader) Upload(ctx context.Context, record queue.CaptureRecord) (string, error) {
	if u.block != nil {
		select {
		case <-u.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if err, ok := u.failures[record.Payload]; ok {
		return "", err
	}
	u.uploaded = append(u.uploaded, record.Payload)
	return "photo-" + record.ID + ".png", nil
}

func (u *scriptedUploader) sent() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string{}, u.uploaded...)
}

type fakeRegistrar struct {
	supported bool
	tags      []string
}

func (r *fakeRegistrar) Supported() bool {
	return r.supported
}

func (r *fakeRegistrar) Register(_ context.Context, tag string) error {
	if !r.supported {
		return ErrSyncUnsupported
	}
	r.tags = append(r.tags, tag)
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []Status
}

func (n *recordingNotifier) Notify(status Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

func (n *recordingNotifier) kinds() []Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]Kind, 0, len(n.statuses))
	for _, s := range n.statuses {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

type switchConn struct {
	online atomic.Bool
}

func (c *switchConn) Online() bool {
	return c.online.Load()
}

func newTestQueue(t *testing.T) *queue.SQLiteQueue {
	t.Helper()
	q, err := queue.NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.Close()
	})
	return q
}

func enqueue(t *testing.T, q queue.Queue, payloads ...string) []queue.CaptureRecord {
	t.Helper()
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	records := make([]queue.CaptureRecord, 0, len(payloads))
	for i, payload := range payloads {
		record := queue.NewRecord(payload, base.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, q.Enqueue(context.Background(), record))
		records = append(records, record)
	}
	return records
}

func payloadsOf(records []queue.CaptureRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Payload)
	}
	return out
}

var errUnreachable = errors.New("dial tcp: connection refused")
