package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/photoqueue/internal/client/queue"
)

func TestHTTPUploader_Upload(t *testing.T) {
	var got uploadBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UploadPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"filename":"photo-x.png"}`))
	}))
	defer server.Close()

	uploader, err := NewHTTPUploader(server.Client(), server.URL)
	require.NoError(t, err)

	filename, err := uploader.Upload(context.Background(), queue.CaptureRecord{ID: "1", Payload: "data:image/png;base64,AA==", CreatedAt: 42})
	require.NoError(t, err)
	assert.Equal(t, "photo-x.png", filename)
	assert.Equal(t, uploadBody{Payload: "data:image/png;base64,AA==", CreatedAt: 42}, got)
}

func TestHTTPUploader_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		permanent bool
	}{
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "too large", status: http.StatusRequestEntityTooLarge, permanent: true},
		{name: "timeout", status: http.StatusRequestTimeout, transient: true},
		{name: "throttled", status: http.StatusTooManyRequests, transient: true},
		{name: "server error", status: http.StatusInternalServerError, transient: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, transient: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			uploader, err := NewHTTPUploader(server.Client(), server.URL)
			require.NoError(t, err)

			_, err = uploader.Upload(context.Background(), queue.CaptureRecord{ID: "1"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.Is(err, ErrTransient))
			assert.Equal(t, tt.permanent, IsPermanent(err))

			var uploadErr *UploadError
			require.ErrorAs(t, err, &uploadErr)
			assert.Equal(t, tt.status, uploadErr.StatusCode)
			assert.Equal(t, "nope", uploadErr.Message)
		})
	}
}

func TestHTTPUploader_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	uploader, err := NewHTTPUploader(nil, url)
	require.NoError(t, err)

	_, err = uploader.Upload(context.Background(), queue.CaptureRecord{ID: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, IsPermanent(err))
}
