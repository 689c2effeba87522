package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iago/meetiq-back/internal/domain"
	"github.com/iago/meetiq-back/internal/export"
)

type meetingResponse struct {
	ID        string                `json:"id"`
	JobID     string                `json:"job_id"`
	Title     string                `json:"title"`
	Mode      string                `json:"mode"`
	Result    domain.PipelineResult `json:"result"`
	CreatedAt time.Time             `json:"created_at"`
}

// Meetings serves GET /v1/meetings/{id} and GET /v1/meetings/{id}/export.
func (api *API) Meetings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/meetings/"), "/")
	meetingID, action, _ := strings.Cut(rest, "/")
	meetingID = strings.TrimSpace(meetingID)
	if meetingID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "meeting_id is required")
		return
	}

	switch action {
	case "":
		api.meeting(w, r, meetingID)
	case "export":
		api.exportMeeting(w, r, meetingID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	}
}

func (api *API) meeting(w http.ResponseWriter, r *http.Request, meetingID string) {
	meeting, err := api.jobsService.GetMeeting(r.Context(), meetingID)
	if err != nil {
		api.writeServiceError(w, r, err, "meeting not found")
		return
	}
	writeJSON(w, http.StatusOK, meetingResponse{
		ID:        meeting.ID,
		JobID:     meeting.JobID,
		Title:     meeting.Title,
		Mode:      meeting.Mode,
		Result:    meeting.Result,
		CreatedAt: meeting.CreatedAt,
	})
}

func (api *API) exportMeeting(w http.ResponseWriter, r *http.Request, meetingID string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		api.writeServiceError(w, r, err, "meeting not found")
		return
	}

	file, err := api.jobsService.ExportMeeting(r.Context(), meetingID, format)
	if err != nil {
		api.writeServiceError(w, r, err, "meeting not found")
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(file.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Body)
}
