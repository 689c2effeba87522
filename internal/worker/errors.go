package worker

import (
	"errors"
	"fmt"

	"github.com/iago/meetiq-back/internal/domain"
	"github.com/iago/meetiq-back/internal/pipeline"
	"github.com/iago/meetiq-back/internal/quality"
)

// JobError is a processing failure tagged with the code stored on the job.
type JobError struct {
	Code domain.ErrorCode
	Err  error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func jobError(code domain.ErrorCode, err error) *JobError {
	return &JobError{Code: code, Err: err}
}

// classify maps any error from processing onto a JobError.
func classify(err error) *JobError {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}

	switch {
	case errors.Is(err, pipeline.ErrExtract):
		return jobError(domain.ErrorExtractFailure, err)
	case errors.Is(err, pipeline.ErrWrite):
		return jobError(domain.ErrorWriteFailure, err)
	case errors.Is(err, pipeline.ErrMerge):
		return jobError(domain.ErrorMergeFailure, err)
	case errors.Is(err, pipeline.ErrRepairExhausted):
		return jobError(domain.ErrorRepairExhausted, err)
	case errors.Is(err, quality.ErrSchemaInvalid):
		return jobError(domain.ErrorSchemaValidationFailure, err)
	default:
		return jobError(domain.ErrorUnknown, err)
	}
}
