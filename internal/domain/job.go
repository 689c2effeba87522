package domain

import (
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// CanTransition reports whether queued -> processing -> {done, error} allows
// the move. Stores check it before every status change.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusDone || to == JobStatusError
	default:
		return false
	}
}

// ErrorCode classifies why a job ended in the error state.
type ErrorCode string

const (
	ErrorInputMissing            ErrorCode = "InputMissing"
	ErrorDownloadFailure         ErrorCode = "DownloadFailure"
	ErrorTranscriptionEmpty      ErrorCode = "TranscriptionEmpty"
	ErrorTranscriptionFailure    ErrorCode = "TranscriptionFailure"
	ErrorExtractFailure          ErrorCode = "ExtractFailure"
	ErrorWriteFailure            ErrorCode = "WriteFailure"
	ErrorMergeFailure            ErrorCode = "MergeFailure"
	ErrorSchemaValidationFailure ErrorCode = "SchemaValidationFailure"
	ErrorRepairExhausted         ErrorCode = "RepairExhausted"
	ErrorPersistenceFailure      ErrorCode = "PersistenceFailure"
	ErrorStaleProcessing         ErrorCode = "StaleProcessing"
	ErrorUnknown                 ErrorCode = "Unknown"
)

const DefaultMeetingMode = "Default"

// Job is the durable unit of pipeline work. The store owns it; workers only
// mutate it through conditional updates.
type Job struct {
	ID             string
	Status         JobStatus
	InputRef       string
	TranscriptText *string
	MeetingMode    string
	OutputRef      string
	Error          string
	ErrorCode      ErrorCode
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClaimedAt      *time.Time
}

// HasTranscript reports whether the job carries usable transcript text.
func (j *Job) HasTranscript() bool {
	return j.TranscriptText != nil && len(*j.TranscriptText) > 0
}

// Meeting is the artifact committed together with a done job.
type Meeting struct {
	ID             string
	JobID          string
	Title          string
	Mode           string
	Result         PipelineResult
	TranscriptText string
	CreatedAt      time.Time
}
