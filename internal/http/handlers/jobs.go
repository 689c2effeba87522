package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/iago/meetiq-back/internal/domain"
)

type createJobRequest struct {
	TranscriptText string `json:"transcript_text,omitempty"`
	InputRef       string `json:"input_ref,omitempty"`
	MeetingMode    string `json:"meeting_mode,omitempty"`
}

type jobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type jobResponse struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	MeetingMode string     `json:"meeting_mode"`
	OutputRef   string     `json:"output_ref,omitempty"`
	Error       *jobError  `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}

func newJobResponse(job *domain.Job) jobResponse {
	response := jobResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		MeetingMode: job.MeetingMode,
		OutputRef:   job.OutputRef,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		ClaimedAt:   job.ClaimedAt,
	}
	if strings.TrimSpace(job.Error) != "" {
		code := string(job.ErrorCode)
		if code == "" {
			code = string(domain.ErrorUnknown)
		}
		response.Error = &jobError{Code: code, Message: job.Error}
	}
	return response
}

// Jobs serves POST /v1/jobs.
func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request createJobRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	hasTranscript := strings.TrimSpace(request.TranscriptText) != ""
	hasInput := strings.TrimSpace(request.InputRef) != ""
	if hasTranscript == hasInput {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "exactly one of transcript_text or input_ref is required")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		payloadHash := hashPayload(request)
		entry, reserved := api.idempotency.Reserve(idempotencyKey, payloadHash)
		if !reserved {
			api.replayIdempotent(w, r, entry, payloadHash)
			return
		}
	}

	var (
		job *domain.Job
		err error
	)
	if hasTranscript {
		job, err = api.jobsService.SubmitTranscript(r.Context(), request.TranscriptText, request.MeetingMode)
	} else {
		job, err = api.jobsService.SubmitAudio(r.Context(), request.InputRef, request.MeetingMode)
	}
	if err != nil {
		if idempotencyKey != "" {
			api.idempotency.Release(idempotencyKey)
		}
		api.writeServiceError(w, r, err, "job not found")
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Commit(idempotencyKey, job.ID)
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

func (api *API) replayIdempotent(w http.ResponseWriter, r *http.Request, entry idempotencyEntry, payloadHash uint64) {
	switch {
	case entry.PayloadHash != payloadHash:
		writeError(w, r, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different payload")
	case entry.JobID == "":
		writeError(w, r, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is still being processed")
	default:
		job, err := api.jobsService.GetJob(r.Context(), entry.JobID)
		if err != nil {
			api.writeServiceError(w, r, err, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, newJobResponse(job))
	}
}

// JobStatus serves GET /v1/jobs/{id}.
func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/jobs/"))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.jobsService.GetJob(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}
