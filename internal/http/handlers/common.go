package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/export"
	"github.com/iago/meetiq-back/internal/http/middleware"
	"github.com/iago/meetiq-back/internal/repository"
	"github.com/iago/meetiq-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

const idempotencyTTL = 24 * time.Hour

type API struct {
	jobsService *service.JobsService
	idempotency *idempotencyStore
	logger      zerolog.Logger
}

func NewAPI(jobsService *service.JobsService, logger zerolog.Logger) *API {
	return &API{
		jobsService: jobsService,
		idempotency: newIdempotencyStore(idempotencyTTL),
		logger:      logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", notFound)
	case errors.Is(err, service.ErrTranscriptTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "transcript_too_large", err.Error())
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, export.ErrUnsupportedFormat):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		api.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

// idempotencyStore remembers which job an Idempotency-Key created. It is
// process-local; a restarted API forgets its keys.
type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idempotencyEntry
	now     func() time.Time
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		ttl:     ttl,
		entries: make(map[string]idempotencyEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve claims key for a new submission. When the key is already known the
// existing entry is returned with reserved=false; its JobID is empty while
// the first request is still submitting.
func (s *idempotencyStore) Reserve(key string, payloadHash uint64) (entry idempotencyEntry, reserved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for existing, item := range s.entries {
		if now.Sub(item.CreatedAt) > s.ttl {
			delete(s.entries, existing)
		}
	}
	if existing, ok := s.entries[key]; ok {
		return existing, false
	}
	s.entries[key] = idempotencyEntry{PayloadHash: payloadHash, CreatedAt: now}
	return idempotencyEntry{}, true
}

// Commit records the job created for a reserved key.
func (s *idempotencyStore) Commit(key string, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		entry.JobID = jobID
		s.entries[key] = entry
	}
}

// Release drops a reservation whose submission failed so the key can be retried.
func (s *idempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && entry.JobID == "" {
		delete(s.entries, key)
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
