// Package syncer decides when queued photos are delivered. Background sync,
// connectivity changes and manual flushes all end in one single-flight drain.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jo-hoe/photoqueue/internal/client/queue"
)

var (
	ErrDrainInProgress = errors.New("a drain is already in progress")
	ErrOffline         = errors.New("server is not reachable")
	ErrRecordNotFound  = errors.New("record is not queued")
)

// DrainResult counts what one drain did. Remaining is what is still queued
// when the drain stopped.
type DrainResult struct {
	Attempted    int
	Sent         int
	DeadLettered int
	Remaining    int
}

type Coordinator struct {
	queue     queue.Queue
	uploader  Uploader
	conn      Connectivity
	registrar Registrar
	notifier  Notifier
	now       func() time.Time

	draining        atomic.Bool
	unsupportedOnce sync.Once
}

// NewCoordinator builds a coordinator. A nil registrar means background sync
// is unavailable and a nil notifier logs statuses.
func NewCoordinator(q queue.Queue, uploader Uploader, conn Connectivity, registrar Registrar, notifier Notifier) *Coordinator {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Coordinator{
		queue:     q,
		uploader:  uploader,
		conn:      conn,
		registrar: registrar,
		notifier:  notifier,
		now:       time.Now,
	}
}

func (c *Coordinator) backgroundSyncSupported() bool {
	return c.registrar != nil && c.registrar.Supported()
}

// Drain delivers queued records in insertion order. A delivered record is
// removed; a permanently rejected one is dead-lettered; the first transient
// failure stops the drain and leaves it and everything after it queued.
func (c *Coordinator) Drain(ctx context.Context) (DrainResult, error) {
	if !c.draining.CompareAndSwap(false, true) {
		c.notifier.Notify(Status{Kind: KindDrainBusy, Message: "A sync is already running.", Err: ErrDrainInProgress})
		return DrainResult{}, ErrDrainInProgress
	}
	defer c.draining.Store(false)

	records, err := c.queue.ListAll(ctx)
	if err != nil {
		c.storageFailure(err, "")
		return DrainResult{}, err
	}

	result := DrainResult{Remaining: len(records)}
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++

		filename, err := c.uploader.Upload(ctx, record)
		switch {
		case err == nil:
			if err := c.queue.Remove(ctx, record.ID); err != nil {
				c.storageFailure(err, record.ID)
				return result, err
			}
			result.Sent++
			result.Remaining--
			slog.Info("queued photo delivered", "record", record.ID, "filename", filename)
		case IsPermanent(err):
			if err := c.queue.DeadLetter(ctx, record.ID, err.Error()); err != nil {
				c.storageFailure(err, record.ID)
				return result, err
			}
			result.DeadLettered++
			result.Remaining--
			c.notifier.Notify(Status{
				Kind:     KindDeadLettered,
				Message:  "The server rejected a queued photo. It was moved out of the queue.",
				RecordID: record.ID,
				Err:      err,
			})
		default:
			slog.Warn("drain stopped, will retry on next trigger",
				"record", record.ID, "remaining", result.Remaining, "error", err)
			return result, fmt.Errorf("deliver %s: %w", record.ID, err)
		}
	}
	return result, nil
}

func (c *Coordinator) storageFailure(err error, recordID string) {
	c.notifier.Notify(Status{
		Kind:     KindStorageError,
		Message:  "Local queue storage failed.",
		RecordID: recordID,
		Err:      err,
	})
}

// HandleSync is the background-sync callback. Tags other than SyncTag are
// ignored. An error asks the scheduler to try again later.
func (c *Coordinator) HandleSync(ctx context.Context, tag string) error {
	if tag != SyncTag {
		return nil
	}
	_, err := c.Drain(ctx)
	return err
}

// HandleOnline reacts to restored connectivity. With background sync
// available the scheduler drains instead.
func (c *Coordinator) HandleOnline(ctx context.Context) error {
	if c.backgroundSyncSupported() {
		return nil
	}
	return c.Flush(ctx)
}

// Flush is the manual fallback drain.
func (c *Coordinator) Flush(ctx context.Context) error {
	if !c.conn.Online() {
		c.notifier.Notify(Status{Kind: KindOffline, Message: "You are offline. Reconnect and try again.", Err: ErrOffline})
		return ErrOffline
	}

	result, err := c.Drain(ctx)
	if errors.Is(err, ErrDrainInProgress) {
		return err
	}
	var storageErr *queue.StorageError
	if errors.As(err, &storageErr) {
		return err
	}

	switch {
	case err != nil:
		c.notifier.Notify(Status{
			Kind:    KindFlushPartial,
			Message: fmt.Sprintf("Could not send everything. %d photo(s) still queued.", result.Remaining),
			Err:     err,
		})
		return err
	case result.Attempted == 0:
		c.notifier.Notify(Status{Kind: KindQueueEmpty, Message: "The queue is empty."})
	default:
		c.notifier.Notify(Status{Kind: KindFlushed, Message: fmt.Sprintf("Queue sent. %d photo(s) delivered.", result.Sent)})
	}
	return nil
}

// Capture delivers payload right away when online. If that fails or the
// server is unreachable, the photo is queued and a background sync is
// registered.
func (c *Coordinator) Capture(ctx context.Context, payload string) (queue.CaptureRecord, error) {
	record := queue.NewRecord(payload, c.now())

	var sendErr error
	if c.conn.Online() {
		filename, err := c.uploader.Upload(ctx, record)
		if err == nil {
			c.notifier.Notify(Status{Kind: KindSent, Message: "Sent right away.", RecordID: record.ID})
			slog.Info("photo delivered", "record", record.ID, "filename", filename)
			return record, nil
		}
		sendErr = err
		slog.Warn("immediate send failed, queueing", "record", record.ID, "error", err)
	}

	if err := c.queue.Enqueue(ctx, record); err != nil {
		c.storageFailure(err, record.ID)
		return record, err
	}
	c.registerSync(ctx)
	c.notifier.Notify(Status{
		Kind:     KindQueued,
		Message:  "Saved to the queue. It will be sent when you are back online.",
		RecordID: record.ID,
		Err:      sendErr,
	})
	return record, nil
}

func (c *Coordinator) registerSync(ctx context.Context) {
	if !c.backgroundSyncSupported() {
		c.unsupportedOnce.Do(func() {
			c.notifier.Notify(Status{
				Kind:    KindUnsupported,
				Message: "Background sync is not available. Queued photos are sent when connectivity returns or on flush.",
				Err:     ErrSyncUnsupported,
			})
		})
		return
	}
	if err := c.registrar.Register(ctx, SyncTag); err != nil {
		slog.Warn("sync registration failed", "tag", SyncTag, "error", err)
	}
}

// SendOne delivers a single queued record on request.
func (c *Coordinator) SendOne(ctx context.Context, id string) error {
	if !c.conn.Online() {
		c.notifier.Notify(Status{Kind: KindOffline, Message: "You are offline.", RecordID: id, Err: ErrOffline})
		return ErrOffline
	}
	if !c.draining.CompareAndSwap(false, true) {
		c.notifier.Notify(Status{Kind: KindDrainBusy, Message: "A sync is already running.", RecordID: id, Err: ErrDrainInProgress})
		return ErrDrainInProgress
	}
	defer c.draining.Store(false)

	record, err := c.find(ctx, id)
	if err != nil {
		return err
	}
	if _, err := c.uploader.Upload(ctx, record); err != nil {
		c.notifier.Notify(Status{Kind: KindSendFailed, Message: "Sending failed. The photo stays queued.", RecordID: id, Err: err})
		return err
	}
	if err := c.queue.Remove(ctx, id); err != nil {
		c.storageFailure(err, id)
		return err
	}
	c.notifier.Notify(Status{Kind: KindSent, Message: "Sent.", RecordID: id})
	return nil
}

func (c *Coordinator) find(ctx context.Context, id string) (queue.CaptureRecord, error) {
	records, err := c.queue.ListAll(ctx)
	if err != nil {
		c.storageFailure(err, id)
		return queue.CaptureRecord{}, err
	}
	for _, record := range records {
		if record.ID == id {
			return record, nil
		}
	}
	return queue.CaptureRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

// Discard drops a queued record without sending it.
func (c *Coordinator) Discard(ctx context.Context, id string) error {
	if err := c.queue.Remove(ctx, id); err != nil {
		c.storageFailure(err, id)
		return err
	}
	return nil
}

// Pending lists the records still waiting for delivery.
func (c *Coordinator) Pending(ctx context.Context) ([]queue.CaptureRecord, error) {
	return c.queue.ListAll(ctx)
}
