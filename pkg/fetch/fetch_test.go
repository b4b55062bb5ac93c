package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownload(t *testing.T) {
	body := "fake mp3 payload"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "assets", "audio.mp3")
	c := New(&Config{Client: srv.Client()})
	if err := c.Download(context.Background(), srv.URL, path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Errorf("unexpected content %q", data)
	}

	// No temp leftovers next to the destination.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("want 1 file, got %d", len(entries))
	}
}

func TestDownloadStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "audio.mp3")
	c := New(&Config{Client: srv.Client()})
	err := c.Download(context.Background(), srv.URL, path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("unexpected error %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("destination should not exist after a failed download")
	}
}

func TestDownloadCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(&Config{Client: srv.Client()})
	if err := c.Download(ctx, srv.URL, filepath.Join(t.TempDir(), "a.mp3")); err == nil {
		t.Fatal("expected error")
	}
}
