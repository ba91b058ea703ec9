package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/photoqueue/internal/backend/database"
	"github.com/jo-hoe/photoqueue/internal/backend/push"
	"github.com/jo-hoe/photoqueue/internal/backend/storage"
	"github.com/jo-hoe/photoqueue/internal/dataurl"
)

const fanoutTimeout = 30 * time.Second

var (
	ErrInvalidPayload      = errors.New("invalid upload payload")
	ErrInvalidSubscription = errors.New("invalid push subscription")
)

// CoreService accepts deliveries, persists them and notifies subscribers.
type CoreService struct {
	config   *ServiceConfig
	uploads  storage.UploadStore
	push     *push.Service
	closers  []func() error
	now      func() time.Time
	inflight sync.WaitGroup
}

func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	subscriptions, err := database.NewSubscriptionStore(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize subscription store: %w", err)
	}
	uploads, err := storage.NewUploadStore(ctx, config.Uploads)
	if err != nil {
		_ = subscriptions.Close()
		return nil, fmt.Errorf("failed to initialize upload store: %w", err)
	}

	sender := push.NewWebPushSender(push.VAPIDConfig{
		PublicKey:  config.VAPID.PublicKey,
		PrivateKey: config.VAPID.PrivateKey,
		Subject:    config.VAPID.Subject,
	}, config.Push.TTL, nil)

	service := NewCoreServiceWith(config, uploads, push.NewService(subscriptions, sender, config.Push.Concurrency))
	service.closers = append(service.closers, subscriptions.Close)
	return service, nil
}

// NewCoreServiceWith wires a service from already constructed collaborators.
func NewCoreServiceWith(config *ServiceConfig, uploads storage.UploadStore, pushService *push.Service) *CoreService {
	return &CoreService{
		config:  config,
		uploads: uploads,
		push:    pushService,
		now:     time.Now,
	}
}

// AcceptUpload validates and stores one photo, then notifies subscribers in
// the background. It returns the generated filename.
func (service *CoreService) AcceptUpload(ctx context.Context, payload string, createdAt int64) (string, error) {
	decoded, err := dataurl.Parse(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if service.config.VerifyImages {
		if err := dataurl.Verify(decoded); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	}

	if createdAt <= 0 {
		createdAt = service.now().UnixMilli()
	}
	filename := UploadFilename(createdAt, decoded)

	stored, err := service.alreadyStored(ctx, filename, decoded.Data)
	if err != nil {
		return "", err
	}
	if stored {
		slog.Info("upload already stored", "filename", filename)
	} else {
		if err := service.uploads.Save(ctx, filename, decoded.MIME, decoded.Data); err != nil {
			return "", fmt.Errorf("failed to persist upload %s: %w", filename, err)
		}
		slog.Info("upload persisted", "filename", filename, "size_bytes", len(decoded.Data), "mime", decoded.MIME)
	}

	service.notifyAsync(ctx, filename)
	return filename, nil
}

// alreadyStored reports whether a redelivered record is already persisted
// with identical bytes.
func (service *CoreService) alreadyStored(ctx context.Context, filename string, data []byte) (bool, error) {
	existing, err := service.uploads.Load(ctx, filename)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up upload %s: %w", filename, err)
	}
	return bytes.Equal(existing, data), nil
}

// notifyAsync runs the fanout detached from the request so its outcome never
// affects the upload response.
func (service *CoreService) notifyAsync(ctx context.Context, filename string) {
	notification := push.Notification{
		Title: service.config.Push.Title,
		Body:  fmt.Sprintf("Photo delivered to server: %s", filename),
		URL:   service.config.Push.URL,
	}

	service.inflight.Add(1)
	go func() {
		defer service.inflight.Done()
		fanoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanoutTimeout)
		defer cancel()

		report, err := service.push.Notify(fanoutCtx, notification)
		if err != nil {
			slog.Error("push fanout failed", "filename", filename, "error", err)
			return
		}
		slog.Info("push fanout finished", "filename", filename,
			"attempted", report.Attempted, "delivered", report.Delivered,
			"pruned", report.Pruned, "failed", report.Failed)
	}()
}

// Subscribe stores a push subscription; duplicates by endpoint are ignored.
func (service *CoreService) Subscribe(ctx context.Context, sub database.Subscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	_, err := service.push.Subscribe(ctx, sub)
	return err
}

func (service *CoreService) VAPIDPublicKey() string {
	return service.config.VAPID.PublicKey
}

// WaitNotifications blocks until all background fanouts have finished.
func (service *CoreService) WaitNotifications() {
	service.inflight.Wait()
}

func (service *CoreService) Close() error {
	service.WaitNotifications()
	var errs []error
	for _, closeFn := range service.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// UploadFilename derives the stored name from the capture time and a short
// content hash, so re-delivering the same record overwrites the same file.
func UploadFilename(createdAt int64, p dataurl.Payload) string {
	t := time.UnixMilli(createdAt).UTC()
	stamp := fmt.Sprintf("%s-%03dZ", t.Format("2006-01-02T15-04-05"), t.Nanosecond()/int(time.Millisecond))
	sum := sha256.Sum256(p.Data)
	return fmt.Sprintf("photo-%s-%s.%s", stamp, hex.EncodeToString(sum[:4]), p.Extension())
}
