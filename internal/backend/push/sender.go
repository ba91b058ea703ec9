package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/jo-hoe/photoqueue/internal/backend/database"
)

// ErrGone marks a subscription whose endpoint no longer exists.
var ErrGone = errors.New("push endpoint gone")

// DeliveryError is returned when the push service rejects a message.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push service responded with status %d", e.StatusCode)
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrGone && (e.StatusCode == http.StatusGone || e.StatusCode == http.StatusNotFound)
}

// Sender delivers one encrypted message to one subscription.
type Sender interface {
	Send(ctx context.Context, sub database.Subscription, payload []byte) error
}

// VAPIDConfig identifies the application server to push services.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// WebPushSender sends Web Push messages signed with VAPID.
type WebPushSender struct {
	vapid      VAPIDConfig
	ttl        time.Duration
	httpClient *http.Client
}

func NewWebPushSender(vapid VAPIDConfig, ttl time.Duration, httpClient *http.Client) *WebPushSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebPushSender{vapid: vapid, ttl: ttl, httpClient: httpClient}
}

// subscriber strips the mailto: scheme because webpush-go adds it to every
// subject that is not an https URL.
func subscriber(subject string) string {
	return strings.TrimPrefix(subject, "mailto:")
}

func (s *WebPushSender) Send(ctx context.Context, sub database.Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      subscriber(s.vapid.Subject),
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             int(s.ttl.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to send push message: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}
