package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jo-hoe/photoqueue/internal/client/queue"
)

const UploadPath = "/api/upload"

// ErrTransient marks a failed delivery that may succeed on a later attempt.
var ErrTransient = errors.New("transient delivery failure")

// UploadError is a delivery the server answered with a non-2xx status.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload rejected with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upload rejected with status %d", e.StatusCode)
}

// Is reports server errors, timeouts and throttling as transient.
func (e *UploadError) Is(target error) bool {
	return target == ErrTransient && !e.permanent()
}

func (e *UploadError) permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// IsPermanent reports whether resending the same record can never succeed.
func IsPermanent(err error) bool {
	var uploadErr *UploadError
	return errors.As(err, &uploadErr) && uploadErr.permanent()
}

// Uploader delivers one record to the server.
type Uploader interface {
	Upload(ctx context.Context, record queue.CaptureRecord) (string, error)
}

type HTTPUploader struct {
	client   *http.Client
	endpoint string
}

type uploadBody struct {
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"createdAt"`
}

type uploadReply struct {
	OK       bool   `json:"ok"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

func NewHTTPUploader(client *http.Client, serverURL string) (*HTTPUploader, error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{
		client:   client,
		endpoint: base.JoinPath(UploadPath).String(),
	}, nil
}

// Upload returns the filename the server stored the photo under. Transport
// failures are wrapped in ErrTransient.
func (u *HTTPUploader) Upload(ctx context.Context, record queue.CaptureRecord) (string, error) {
	body, err := json.Marshal(uploadBody{Payload: record.Payload, CreatedAt: record.CreatedAt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %w", ErrTransient, err)
	}
	var reply uploadReply
	_ = json.Unmarshal(raw, &reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UploadError{StatusCode: resp.StatusCode, Message: reply.Error}
	}
	return reply.Filename, nil
}
