package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/photoqueue/internal/backend/database"
)

func testSubscription(t *testing.T, endpoint string) database.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return database.Subscription{
		Endpoint: endpoint,
		Keys: database.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func testSender(t *testing.T) *WebPushSender {
	t.Helper()
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return NewWebPushSender(VAPIDConfig{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    "mailto:test@example.com",
	}, time.Hour, nil)
}

func TestWebPushSender_StatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
		gone    bool
	}{
		{"created", http.StatusCreated, false, false},
		{"gone", http.StatusGone, true, true},
		{"not found", http.StatusNotFound, true, true},
		{"server error", http.StatusInternalServerError, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sawAuth bool
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sawAuth = r.Header.Get("Authorization") != ""
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := testSender(t).Send(context.Background(), testSubscription(t, srv.URL+"/push/abc"), []byte(`{"title":"t"}`))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.gone {
				assert.ErrorIs(t, err, ErrGone)
			} else {
				assert.NotErrorIs(t, err, ErrGone)
			}
			assert.True(t, sawAuth, "expected VAPID Authorization header")
		})
	}
}

func TestWebPushSender_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := testSender(t).Send(context.Background(), testSubscription(t, url+"/push/abc"), []byte(`{}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGone, "network failure must not be classified as gone")
}

// jwtSubject extracts the sub claim from a "vapid t=<jwt>, k=<key>" header.
func jwtSubject(t *testing.T, authorization string) string {
	t.Helper()
	token := strings.TrimPrefix(authorization, "vapid t=")
	token, _, _ = strings.Cut(token, ",")
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3, "unexpected Authorization header %q", authorization)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims struct {
		Sub string `json:"sub"`
	}
	require.NoError(t, json.Unmarshal(raw, &claims))
	return claims.Sub
}

func TestWebPushSender_SubjectIsSingleMailto(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"mailto:test@example.com", "mailto:test@example.com"},
		{"test@example.com", "mailto:test@example.com"},
		{"https://photos.example", "https://photos.example"},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			var authorization string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				authorization = r.Header.Get("Authorization")
				w.WriteHeader(http.StatusCreated)
			}))
			defer srv.Close()

			sender := testSender(t)
			sender.vapid.Subject = tt.subject
			require.NoError(t, sender.Send(context.Background(), testSubscription(t, srv.URL+"/push/abc"), []byte(`{}`)))
			assert.Equal(t, tt.want, jwtSubject(t, authorization))
		})
	}
}
