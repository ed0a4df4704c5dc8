package docstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iurnickita/homecare/internal/docstore/config"
)

func TestNewClientDisabled(t *testing.T) {
	require.Nil(t, NewClient(config.Config{}))
}

func TestUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MSG1G.xml")
	require.NoError(t, os.WriteFile(path, []byte("<Document/>"), 0o600))

	var (
		gotName string
		gotBody string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != uploadPath || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		gotName, gotBody = header.Filename, string(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"doc-1"}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{Addr: server.URL, Timeout: time.Second})
	id, err := client.Upload(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "doc-1", id)
	require.Equal(t, "MSG1G.xml", gotName)
	require.Equal(t, "<Document/>", gotBody)
}

func TestUploadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MSG1G.xml")
	require.NoError(t, os.WriteFile(path, []byte("<Document/>"), 0o600))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewClient(config.Config{Addr: server.URL}).Upload(context.Background(), path)
	require.Error(t, err)

	_, err = NewClient(config.Config{Addr: server.URL}).Upload(context.Background(), filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)
}
