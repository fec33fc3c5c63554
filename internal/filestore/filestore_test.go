package filestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/libragent/internal/config"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

func TestLocalStore(t *testing.T) {
	s, err := New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	require.Equal(t, "local", s.Type())
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "doc-1.txt", strings.NewReader("hello"), 5))
	data, err := ReadAll(ctx, s, "doc-1.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, s.Delete(ctx, "doc-1.txt"))
	require.NoError(t, s.Delete(ctx, "doc-1.txt"))
	_, err = s.Open(ctx, "doc-1.txt")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.ErrorIs(t, s.Save(ctx, "../escape", strings.NewReader("x"), 1), appErr.ErrInvalid)
	_, err = s.Open(ctx, "a/b")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestNewValidation(t *testing.T) {
	_, err := New(config.FileStoreConfig{})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "ftp", Data: map[string]interface{}{}})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{}})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "s3", Data: map[string]interface{}{"endpoint": "x"}})
	require.Error(t, err)
}

func TestS3StoreOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/docs/raw/present.txt":
			_, _ = w.Write([]byte("stored bytes"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
		}
	}))
	defer srv.Close()

	s, err := New(config.FileStoreConfig{Type: "s3", Data: map[string]interface{}{
		"endpoint":   srv.URL,
		"bucket":     "docs",
		"prefix":     "/raw/",
		"secret_id":  "id",
		"secret_key": "key",
	}})
	require.NoError(t, err)
	require.Equal(t, "s3", s.Type())

	data, err := ReadAll(context.Background(), s, "present.txt")
	require.NoError(t, err)
	require.Equal(t, "stored bytes", string(data))

	_, err = s.Open(context.Background(), "absent.txt")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestBuildEndpoint(t *testing.T) {
	require.Equal(t, "https://minio:9000", buildEndpoint("minio:9000/", true))
	require.Equal(t, "http://minio:9000", buildEndpoint("minio:9000", false))
	require.Equal(t, "http://x", buildEndpoint("http://x/", true))
}
