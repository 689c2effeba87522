package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var ErrDownload = errors.New("object download failed")

const maxDownloadBytes = 512 << 20

// Download fetches url into a fresh file under dir. The returned cleanup
// removes the file and is safe to call on every exit path, including when
// err is non-nil.
func Download(ctx context.Context, client *http.Client, url, dir, nameHint string) (string, func(), error) {
	noop := func() {}
	if client == nil {
		client = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", noop, fmt.Errorf("%w: create request: %v", ErrDownload, err)
	}
	response, err := client.Do(request)
	if err != nil {
		return "", noop, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", noop, fmt.Errorf("%w: status %d", ErrDownload, response.StatusCode)
	}

	pattern := "meetiq-*"
	if ext := filepath.Ext(strings.TrimSpace(nameHint)); ext != "" && len(ext) <= 8 {
		pattern += ext
	}
	file, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", noop, fmt.Errorf("%w: create temp file: %v", ErrDownload, err)
	}
	cleanup := func() { _ = os.Remove(file.Name()) }

	written, copyErr := io.Copy(file, io.LimitReader(response.Body, maxDownloadBytes+1))
	closeErr := file.Close()
	switch {
	case copyErr != nil:
		cleanup()
		return "", noop, fmt.Errorf("%w: %v", ErrDownload, copyErr)
	case closeErr != nil:
		cleanup()
		return "", noop, fmt.Errorf("%w: %v", ErrDownload, closeErr)
	case written > maxDownloadBytes:
		cleanup()
		return "", noop, fmt.Errorf("%w: object exceeds %d bytes", ErrDownload, maxDownloadBytes)
	case written == 0:
		cleanup()
		return "", noop, fmt.Errorf("%w: empty object", ErrDownload)
	}
	return file.Name(), cleanup, nil
}
