package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fakturly/invoice-ocr-pipeline/internal/db"
	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
)

// estimatedDuration is how long a job typically takes end to end; used only
// for the estimated-completion hint while a job is in flight.
const estimatedDuration = 30 * time.Second

// stepProgress maps the most recently logged step to an approximate
// percentage of the whole pipeline.
var stepProgress = map[models.Step]int{
	models.StepUpload:     10,
	models.StepPreprocess: 20,
	models.StepOCR:        50,
	models.StepAIExtract:  80,
	models.StepValidate:   90,
	models.StepSave:       95,
}

// JobReader is the slice of the job repository the status service needs.
type JobReader interface {
	GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.OCRJob, error)
	CountQueuedBefore(ctx context.Context, tenantID uuid.UUID, createdAt time.Time) (int, error)
}

// LogReader reads the processing log written by the pipeline.
type LogReader interface {
	Latest(ctx context.Context, jobID uuid.UUID) (*models.ProcessingLogEntry, error)
	LatestFailed(ctx context.Context, jobID uuid.UUID) (*models.ProcessingLogEntry, error)
}

// JobStatusView is the polling response shape. Fields are populated
// according to the job's status; everything else stays zero.
type JobStatusView struct {
	JobID     uuid.UUID        `json:"job_id"`
	InvoiceID uuid.UUID        `json:"invoice_id"`
	Status    models.JobStatus `json:"status"`

	// QUEUED
	QueuePosition int `json:"queue_position,omitempty"`

	// PROCESSING
	CurrentStep         models.Step `json:"current_step,omitempty"`
	Progress            int         `json:"progress,omitempty"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty"`

	// COMPLETED
	Result *models.JobResult `json:"result,omitempty"`

	// Terminal states
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	// FAILED
	Error      string      `json:"error,omitempty"`
	FailedStep models.Step `json:"failed_step,omitempty"`
	RetryCount int         `json:"retry_count,omitempty"`
	WillRetry  bool        `json:"will_retry,omitempty"`
}

// StatusService projects job and log state into a polling view.
type StatusService struct {
	jobs JobReader
	logs LogReader
}

func NewStatusService(jobs JobReader, logs LogReader) *StatusService {
	return &StatusService{jobs: jobs, logs: logs}
}

// JobStatus builds the status view for one job. Jobs belonging to another
// tenant surface as not-found, never as a permission error.
func (s *StatusService) JobStatus(ctx context.Context, tenantID, jobID uuid.UUID) (*JobStatusView, error) {
	job, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	view := &JobStatusView{
		JobID:     job.ID,
		InvoiceID: job.InvoiceID,
		Status:    job.Status,
	}
	if job.Status.Terminal() && job.StartedAt != nil && job.CompletedAt != nil {
		view.DurationSeconds = job.CompletedAt.Sub(*job.StartedAt).Seconds()
	}

	switch job.Status {
	case models.JobQueued:
		ahead, err := s.jobs.CountQueuedBefore(ctx, tenantID, job.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to count queued jobs: %w", err)
		}
		view.QueuePosition = ahead + 1

	case models.JobProcessing:
		entry, err := s.logs.Latest(ctx, job.ID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		if entry != nil {
			view.CurrentStep = entry.Step
			view.Progress = stepProgress[entry.Step]
		}
		if job.StartedAt != nil {
			est := job.StartedAt.Add(estimatedDuration)
			view.EstimatedCompletion = &est
		}

	case models.JobCompleted:
		view.Result = job.Result

	case models.JobFailed:
		view.Error = job.ErrorMessage
		view.RetryCount = job.RetryCount
		view.WillRetry = job.RetryCount < job.MaxRetries
		if entry, err := s.logs.LatestFailed(ctx, job.ID); err == nil && entry != nil {
			view.FailedStep = entry.Step
		}
	}

	return view, nil
}
