package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle status of one asynchronous processing attempt.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Step names the pipeline stages, logged individually per job.
type Step string

const (
	StepUpload     Step = "UPLOAD"
	StepPreprocess Step = "PREPROCESS"
	StepOCR        Step = "OCR"
	StepAIExtract  Step = "AI_EXTRACT"
	StepValidate   Step = "VALIDATE"
	StepSave       Step = "SAVE"
)

// StepStatus is the outcome recorded for one step transition.
type StepStatus string

const (
	StepStarted   StepStatus = "STARTED"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)

// JobResult is the small summary stored on a completed job.
type JobResult struct {
	OverallConfidence int      `json:"overall_confidence"`
	ValidationErrors  []string `json:"validation_errors"`
	NeedsReview       bool     `json:"needs_review"`
}

// OCRJob is one asynchronous processing attempt for an invoice. Transitions
// are owned exclusively by the pipeline orchestrator; at most one job may be
// QUEUED or PROCESSING per invoice, enforced by a partial unique index.
type OCRJob struct {
	ID        uuid.UUID `json:"id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Status    JobStatus `json:"status"`

	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	Result     *JobResult `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ProcessingLogEntry is an immutable, append-only record of one step
// transition for one job. Entries are written in strict step order, so the
// most recent entry identifies the current step.
type ProcessingLogEntry struct {
	ID       int64          `json:"id"`
	JobID    uuid.UUID      `json:"job_id"`
	TenantID uuid.UUID      `json:"tenant_id"`
	Step     Step           `json:"step"`
	Status   StepStatus     `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Correction is one human edit to one extracted field, kept for audit and
// model-feedback purposes. Never mutated or deleted once written.
type Correction struct {
	ID                 int64     `json:"id"`
	InvoiceID          uuid.UUID `json:"invoice_id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	FieldPath          string    `json:"field_path"`
	OriginalValue      string    `json:"original_value"`
	CorrectedValue     string    `json:"corrected_value"`
	OriginalConfidence int       `json:"original_confidence"`
	CorrectedBy        uuid.UUID `json:"corrected_by"`
	Notes              string    `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
