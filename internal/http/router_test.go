package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/domain"
	"github.com/iago/meetiq-back/internal/http/handlers"
	"github.com/iago/meetiq-back/internal/repository"
	"github.com/iago/meetiq-back/internal/service"
	"github.com/iago/meetiq-back/internal/storage"
)

const testToken = "test-token"

type testServer struct {
	handler http.Handler
	repo    *repository.MemoryJobsRepository
	store   *storage.LocalStore
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	repo := repository.NewMemoryJobsRepository()
	jobs := service.NewJobsService(repo, nil, service.JobsServiceConfig{
		MaxTranscriptBytes: 128,
		Logger:             zerolog.Nop(),
	})
	store, err := storage.NewLocalStore(storage.LocalStoreConfig{
		Root:    t.TempDir(),
		BaseURL: "http://api.test",
		Secret:  "secret",
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	handler := NewRouter(RouterDependencies{
		API:         handlers.NewAPI(jobs, zerolog.Nop()),
		Objects:     store,
		Logger:      zerolog.Nop(),
		AuthToken:   testToken,
		CORSOrigins: []string{"https://app.meetiq.dev"},
	})
	return testServer{handler: handler, repo: repo, store: store}
}

func (s testServer) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, nil)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+testToken)
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func TestCreateJobThenReadStatus(t *testing.T) {
	server := newTestServer(t)

	created := server.do(http.MethodPost, "/v1/jobs", `{"transcript_text":"Alex will email the team.","meeting_mode":"Standup"}`, nil)
	if created.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", created.Code, created.Body.String())
	}
	body := decodeBody(t, created)
	jobID, _ := body["job_id"].(string)
	if jobID == "" || body["status"] != "queued" || body["meeting_mode"] != "Standup" {
		t.Fatalf("unexpected create body %v", body)
	}
	if created.Header().Get("Location") != "/v1/jobs/"+jobID {
		t.Fatalf("unexpected location %q", created.Header().Get("Location"))
	}

	status := server.do(http.MethodGet, "/v1/jobs/"+jobID, "", nil)
	if status.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", status.Code)
	}
	if decodeBody(t, status)["status"] != "queued" {
		t.Fatalf("unexpected status body %s", status.Body.String())
	}
}

func TestCreateJobRejectsBadPayloads(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"transcript_text":`, http.StatusBadRequest},
		{"unknown field", `{"transcript_text":"hi","extra":1}`, http.StatusBadRequest},
		{"neither input", `{"meeting_mode":"Default"}`, http.StatusBadRequest},
		{"both inputs", `{"transcript_text":"hi","input_ref":"uploads/a.m4a"}`, http.StatusBadRequest},
		{"escaping ref", `{"input_ref":"../etc/passwd"}`, http.StatusBadRequest},
		{"too large", `{"transcript_text":"` + strings.Repeat("a", 200) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := server.do(http.MethodPost, "/v1/jobs", tc.body, nil)
			if recorder.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestCreateJobIdempotencyKey(t *testing.T) {
	server := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "key-1"}

	first := server.do(http.MethodPost, "/v1/jobs", `{"transcript_text":"hello"}`, headers)
	second := server.do(http.MethodPost, "/v1/jobs", `{"transcript_text":"hello"}`, headers)
	if first.Code != http.StatusAccepted || second.Code != http.StatusOK {
		t.Fatalf("unexpected codes %d / %d", first.Code, second.Code)
	}
	if decodeBody(t, first)["job_id"] != decodeBody(t, second)["job_id"] {
		t.Fatalf("expected replay to return the same job")
	}

	conflict := server.do(http.MethodPost, "/v1/jobs", `{"transcript_text":"different"}`, headers)
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", conflict.Code)
	}
}

func TestCreateJobIdempotencyKeyUnderConcurrency(t *testing.T) {
	server := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "key-race"}

	const requests = 16
	var wg sync.WaitGroup
	recorders := make([]*httptest.ResponseRecorder, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recorders[i] = server.do(http.MethodPost, "/v1/jobs", `{"transcript_text":"hello"}`, headers)
		}(i)
	}
	wg.Wait()

	accepted := 0
	jobIDs := make(map[string]struct{})
	for _, recorder := range recorders {
		switch recorder.Code {
		case http.StatusAccepted:
			accepted++
			jobIDs[decodeBody(t, recorder)["job_id"].(string)] = struct{}{}
		case http.StatusOK:
			jobIDs[decodeBody(t, recorder)["job_id"].(string)] = struct{}{}
		case http.StatusConflict:
			errorBody, _ := decodeBody(t, recorder)["error"].(map[string]any)
			if errorBody["code"] != "idempotency_in_progress" {
				t.Fatalf("unexpected conflict %s", recorder.Body.String())
			}
		default:
			t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
		}
	}
	if accepted != 1 || len(jobIDs) != 1 {
		t.Fatalf("expected one created job, got accepted=%d ids=%v", accepted, jobIDs)
	}

	ctx := context.Background()
	job, err := server.repo.NextQueued(ctx)
	if err != nil {
		t.Fatalf("expected the created job to be queued: %v", err)
	}
	if _, ok := jobIDs[job.ID]; !ok {
		t.Fatalf("queued job %s was not returned to any caller", job.ID)
	}
	if _, err := server.repo.Claim(ctx, job.ID, time.Now().UTC()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := server.repo.NextQueued(ctx); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected exactly one job in the store, got %v", err)
	}
}

func TestJobStatusReportsErrorCode(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := &domain.Job{ID: "job-1", Status: domain.JobStatusQueued, MeetingMode: "Default", CreatedAt: now, UpdatedAt: now}
	if err := server.repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := server.repo.Claim(ctx, job.ID, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := server.repo.Fail(ctx, job.ID, domain.ErrorExtractFailure, "ExtractFailure: no JSON object", now); err != nil {
		t.Fatalf("fail: %v", err)
	}

	recorder := server.do(http.MethodGet, "/v1/jobs/job-1", "", nil)
	body := decodeBody(t, recorder)
	errorBody, _ := body["error"].(map[string]any)
	if body["status"] != "error" || errorBody["code"] != "ExtractFailure" {
		t.Fatalf("unexpected body %v", body)
	}

	missing := server.do(http.MethodGet, "/v1/jobs/nope", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestMeetingReadAndExport(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC()
	owner := "Alex"

	job := &domain.Job{ID: "job-2", Status: domain.JobStatusQueued, MeetingMode: "Default", CreatedAt: now, UpdatedAt: now}
	if err := server.repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := server.repo.Claim(ctx, job.ID, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	meeting := &domain.Meeting{
		ID:    "meeting-2",
		JobID: job.ID,
		Title: "Weekly Sync",
		Mode:  "Default",
		Result: domain.PipelineResult{
			SchemaVersion: "1.0",
			Summary:       domain.Summary{Title: "Weekly Sync", TLDR: "Shipping Friday.", Bullets: []string{"Ship Friday"}},
			ActionItems:   []domain.ActionItem{{Task: "Email the team", Owner: &owner}},
		}.Normalize(),
		CreatedAt: now,
	}
	if err := server.repo.Complete(ctx, job.ID, meeting, now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	read := server.do(http.MethodGet, "/v1/meetings/meeting-2", "", nil)
	if read.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", read.Code)
	}
	if decodeBody(t, read)["title"] != "Weekly Sync" {
		t.Fatalf("unexpected meeting body %s", read.Body.String())
	}

	markdown := server.do(http.MethodGet, "/v1/meetings/meeting-2/export?format=md", "", nil)
	if markdown.Code != http.StatusOK || !strings.HasPrefix(markdown.Header().Get("Content-Type"), "text/markdown") {
		t.Fatalf("unexpected markdown export %d %q", markdown.Code, markdown.Header().Get("Content-Type"))
	}
	if !strings.Contains(markdown.Body.String(), "Email the team") {
		t.Fatalf("expected action item in markdown, got %q", markdown.Body.String())
	}
	if !strings.Contains(markdown.Header().Get("Content-Disposition"), ".md") {
		t.Fatalf("unexpected disposition %q", markdown.Header().Get("Content-Disposition"))
	}

	badFormat := server.do(http.MethodGet, "/v1/meetings/meeting-2/export?format=pdf", "", nil)
	if badFormat.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", badFormat.Code)
	}
	missing := server.do(http.MethodGet, "/v1/meetings/unknown/export", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestObjectsUseSignedTokenInsteadOfBearer(t *testing.T) {
	server := newTestServer(t)
	if err := os.MkdirAll(filepath.Join(server.store.Root(), "uploads"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(server.store.Root(), "uploads", "a.m4a"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	signed, err := server.store.SignedURL(context.Background(), "uploads/a.m4a", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	target := strings.TrimPrefix(signed, "http://api.test")

	request := httptest.NewRequest(http.MethodGet, target, nil)
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "audio" {
		t.Fatalf("expected object download, got %d %q", recorder.Code, recorder.Body.String())
	}

	unsigned := httptest.NewRecorder()
	server.handler.ServeHTTP(unsigned, httptest.NewRequest(http.MethodGet, "/v1/objects/uploads/a.m4a", nil))
	if unsigned.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", unsigned.Code)
	}
}

func TestHealthAndAuth(t *testing.T) {
	server := newTestServer(t)

	health := httptest.NewRecorder()
	server.handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK || health.Header().Get("X-Request-Id") == "" {
		t.Fatalf("unexpected health response %d", health.Code)
	}

	ready := httptest.NewRecorder()
	server.handler.ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if ready.Code != http.StatusOK {
		t.Fatalf("expected memory store to be ready, got %d", ready.Code)
	}

	unauthenticated := httptest.NewRecorder()
	server.handler.ServeHTTP(unauthenticated, httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	if unauthenticated.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", unauthenticated.Code)
	}
}
