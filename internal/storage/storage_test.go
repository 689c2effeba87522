package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSignerRoundTripAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	signer := NewSigner("secret")
	signer.now = func() time.Time { return now }

	token := signer.Sign("uploads/a|b.m4a", now.Add(time.Minute))
	objectPath, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if objectPath != "uploads/a|b.m4a" {
		t.Fatalf("unexpected path %q", objectPath)
	}

	signer.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := signer.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestSignerRejectsTamperedToken(t *testing.T) {
	signer := NewSigner("secret")
	token := signer.Sign("uploads/a.m4a", time.Now().Add(time.Minute))

	other := NewSigner("other-secret")
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if _, err := signer.Verify("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected format error, got %v", err)
	}
}

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(LocalStoreConfig{
		Root:    t.TempDir(),
		BaseURL: "http://objects.test",
		Secret:  "secret",
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestLocalStoreServesSignedObject(t *testing.T) {
	store := newTestStore(t)
	if err := os.MkdirAll(filepath.Join(store.Root(), "uploads"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "uploads", "call.m4a"), []byte("audio-bytes"), 0o600); err != nil {
		t.Fatalf("write object: %v", err)
	}

	signed, err := store.SignedURL(context.Background(), "uploads/call.m4a", time.Minute)
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}
	if !strings.HasPrefix(signed, "http://objects.test/v1/objects/uploads/call.m4a?token=") {
		t.Fatalf("unexpected url %q", signed)
	}

	request := httptest.NewRequest(http.MethodGet, strings.TrimPrefix(signed, "http://objects.test"), nil)
	recorder := httptest.NewRecorder()
	store.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Body.String() != "audio-bytes" {
		t.Fatalf("unexpected body %q", recorder.Body.String())
	}

	swapped := strings.Replace(request.URL.String(), "call.m4a", "other.m4a", 1)
	recorder = httptest.NewRecorder()
	store.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, swapped, nil))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected token bound to path, got %d", recorder.Code)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	for _, objectPath := range []string{"../etc/passwd", "a/../../b", "", `a\b`} {
		if _, err := store.SignedURL(context.Background(), objectPath, time.Minute); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected invalid path for %q, got %v", objectPath, err)
		}
	}
}

func TestDownloadWritesTempFileAndCleansUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "audio-bytes")
	}))
	defer server.Close()

	dir := t.TempDir()
	filePath, cleanup, err := Download(context.Background(), server.Client(), server.URL, dir, "call.m4a")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if filepath.Ext(filePath) != ".m4a" {
		t.Fatalf("expected extension to be kept, got %q", filePath)
	}
	content, err := os.ReadFile(filePath)
	if err != nil || string(content) != "audio-bytes" {
		t.Fatalf("unexpected content %q err=%v", content, err)
	}

	cleanup()
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, stat err=%v", err)
	}
}

func TestDownloadFailureLeavesNothingBehind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dir := t.TempDir()
	_, cleanup, err := Download(context.Background(), server.Client(), server.URL, dir, "call.m4a")
	cleanup()
	if !errors.Is(err, ErrDownload) {
		t.Fatalf("expected ErrDownload, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty temp dir, got %d entries", len(entries))
	}
}
