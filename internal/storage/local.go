package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrInvalidPath = errors.New("invalid object path")

// ObjectStore hands out time-limited URLs for stored audio objects.
type ObjectStore interface {
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

type LocalStoreConfig struct {
	Root    string
	BaseURL string
	Secret  string
	Logger  zerolog.Logger
}

// LocalStore keeps objects under a root directory and serves them at
// BaseURL + "/v1/objects/<path>?token=<signed token>".
type LocalStore struct {
	root    string
	baseURL string
	signer  *Signer
	logger  zerolog.Logger
}

func NewLocalStore(config LocalStoreConfig) (*LocalStore, error) {
	if strings.TrimSpace(config.Secret) == "" {
		return nil, errors.New("storage secret is required")
	}
	root := strings.TrimSpace(config.Root)
	if root == "" {
		root = "data/objects"
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(absolute, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{
		root:    absolute,
		baseURL: strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		signer:  NewSigner(config.Secret),
		logger:  config.Logger,
	}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	if _, err := s.resolve(clean); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	token := s.signer.Sign(clean, s.signer.now().Add(ttl))
	return s.baseURL + "/v1/objects/" + escapeObjectPath(clean) + "?token=" + url.QueryEscape(token), nil
}

// ServeHTTP serves GET /v1/objects/<path>?token=... for tokens issued by this store.
func (s *LocalStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requested, err := cleanObjectPath(strings.TrimPrefix(r.URL.Path, "/v1/objects/"))
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	signedPath, err := s.signer.Verify(r.URL.Query().Get("token"))
	if err != nil || signedPath != requested {
		s.logger.Debug().Err(err).Str("path", requested).Msg("rejected object token")
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}

	fullPath, err := s.resolve(requested)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	file, err := os.Open(fullPath)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(fullPath)))
	http.ServeContent(w, r, filepath.Base(fullPath), info.ModTime(), file)
}

func (s *LocalStore) resolve(objectPath string) (string, error) {
	fullPath := filepath.Join(s.root, filepath.FromSlash(objectPath))
	if fullPath != s.root && !strings.HasPrefix(fullPath, s.root+string(os.PathSeparator)) {
		return "", ErrInvalidPath
	}
	return fullPath, nil
}

func cleanObjectPath(objectPath string) (string, error) {
	trimmed := strings.TrimSpace(objectPath)
	if trimmed == "" || strings.Contains(trimmed, "\\") {
		return "", ErrInvalidPath
	}
	clean := path.Clean("/" + trimmed)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", ErrInvalidPath
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", ErrInvalidPath
		}
	}
	return clean, nil
}

func escapeObjectPath(objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
