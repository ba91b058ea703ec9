package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jo-hoe/photoqueue/internal/backend/database"
	"github.com/jo-hoe/photoqueue/internal/backend/push"
	"github.com/jo-hoe/photoqueue/internal/backend/storage"
	"github.com/jo-hoe/photoqueue/internal/common"
	"github.com/jo-hoe/photoqueue/internal/core"
	"github.com/jo-hoe/photoqueue/internal/dataurl"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	payloads []push.Notification
}

func (r *recordingSender) Send(ctx context.Context, sub database.Subscription, payload []byte) error {
	var n push.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return err
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, n)
	r.mu.Unlock()
	return nil
}

type testServer struct {
	echo      *echo.Echo
	core      *core.CoreService
	uploadDir string
	subs      database.SubscriptionStore
	sender    *recordingSender
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	dir := t.TempDir()
	uploadDir := filepath.Join(dir, "uploads")

	uploads, err := storage.NewFilesystemStore(uploadDir)
	require.NoError(t, err)
	subs, err := database.NewFileStore(filepath.Join(dir, "subscriptions.json"))
	require.NoError(t, err)
	config := &core.ServiceConfig{
		BodyLimit: "15M",
		VAPID:     core.VAPID{PublicKey: "test-public-key", PrivateKey: "test-private-key"},
		Push:      core.Push{Title: "Upload synced", URL: "/"},
	}
	sender := &recordingSender{}
	coreService := core.NewCoreServiceWith(config, uploads, push.NewService(subs, sender, 2))
	t.Cleanup(func() { _ = coreService.Close() })

	e := echo.New()
	e.Validator = &common.GenericEchoValidator{}
	NewAPIService(config, coreService).SetRoutes(e)

	return testServer{echo: e, core: coreService, uploadDir: uploadDir, subs: subs, sender: sender}
}

func (s testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "response is not JSON: %s", rec.Body.String())
	return out
}

func testPayload(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	return dataurl.Encode("image/png", buf.Bytes())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])
}

func TestVAPIDPublicKey(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/vapidPublicKey", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-public-key", decode(t, rec)["publicKey"])
}

func TestUpload_NotAnImage(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/upload", `{"payload":"not-an-image","createdAt":1700000000000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, decode(t, rec), "filename")

	entries, err := os.ReadDir(s.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_MissingPayload(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/upload", `{"createdAt":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_SuccessNotifiesSubscribers(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/subscribe", `{"endpoint":"https://push.example/abc","keys":{"p256dh":"k","auth":"a"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/upload", `{"payload":"`+testPayload(t)+`","createdAt":1700000000000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	filename, _ := body["filename"].(string)
	assert.Equal(t, true, body["ok"])
	assert.True(t, strings.HasPrefix(filename, "photo-"), filename)
	assert.FileExists(t, filepath.Join(s.uploadDir, filename))

	s.core.WaitNotifications()
	require.Len(t, s.sender.payloads, 1)
	n := s.sender.payloads[0]
	assert.Equal(t, "Upload synced", n.Title)
	assert.Equal(t, "/", n.URL)
	assert.Contains(t, n.Body, filename)
}

func TestUpload_LegacyDataURLField(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/upload", `{"dataUrl":"`+testPayload(t)+`","createdAt":5}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSubscribe_MissingEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/subscribe", `{"keys":{"p256dh":"k","auth":"a"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	subs, err := s.subs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubscribe_Idempotent(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/subscribe", `{"endpoint":"https://push.example/abc"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	subs, err := s.subs.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
