package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fakturly/invoice-ocr-pipeline/internal/ai"
	"github.com/fakturly/invoice-ocr-pipeline/internal/db"
	"github.com/fakturly/invoice-ocr-pipeline/internal/events"
	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
	"github.com/fakturly/invoice-ocr-pipeline/internal/ocr"
	"github.com/fakturly/invoice-ocr-pipeline/internal/services"
)

// InvoiceStore is the slice of the invoice repository the pipeline needs.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	UpdateStatus(ctx context.Context, tenantID, invoiceID uuid.UUID, status models.InvoiceStatus) error
	SaveExtraction(ctx context.Context, inv *models.Invoice) error
}

// JobStore owns job state transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.OCRJob) error
	MarkCompleted(ctx context.Context, jobID uuid.UUID, result models.JobResult) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string) error
}

// LogStore appends immutable per-step log entries.
type LogStore interface {
	Append(ctx context.Context, entry *models.ProcessingLogEntry) error
}

// ObjectStore fetches uploaded documents from object storage. Download reads
// through a short-lived presigned link, so access stays time-bounded.
type ObjectStore interface {
	Download(ctx context.Context, objectPath string) ([]byte, error)
}

// Extractor turns raw OCR text into structured invoice data.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (*ai.Extraction, error)
}

// Config carries the pipeline tuning knobs.
type Config struct {
	ReviewThreshold int
	MaxRetries      int
	StepTimeout     time.Duration
}

// Orchestrator drives one invoice through OCR, AI extraction, validation and
// persistence. It is the only writer of job state; invoice status moves to
// PROCESSING on entry and to EXTRACTED or NEEDS_REVIEW on success. On a
// retriable failure the invoice is returned to its uploaded status so the
// retry delivery passes the status guard; once the retry budget is spent it
// moves to FAILED.
type Orchestrator struct {
	invoices   InvoiceStore
	jobs       JobStore
	logs       LogStore
	objects    ObjectStore
	recognizer ocr.Recognizer
	extractor  Extractor
	bus        events.Publisher

	reviewThreshold int
	maxRetries      int
	stepTimeout     time.Duration
	log             zerolog.Logger
}

func NewOrchestrator(
	invoices InvoiceStore,
	jobs JobStore,
	logs LogStore,
	objects ObjectStore,
	recognizer ocr.Recognizer,
	extractor Extractor,
	bus events.Publisher,
	cfg Config,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = services.DefaultReviewThreshold
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 60 * time.Second
	}
	return &Orchestrator{
		invoices:        invoices,
		jobs:            jobs,
		logs:            logs,
		objects:         objects,
		recognizer:      recognizer,
		extractor:       extractor,
		bus:             bus,
		reviewThreshold: cfg.ReviewThreshold,
		maxRetries:      cfg.MaxRetries,
		stepTimeout:     cfg.StepTimeout,
		log:             log.With().Str("component", "pipeline").Logger(),
	}
}

// HandleInvoiceUploaded is the bus handler for invoice.uploaded events.
func (o *Orchestrator) HandleInvoiceUploaded(ctx context.Context, e cloudevents.Event) error {
	var payload events.InvoiceUploaded
	if err := e.DataAs(&payload); err != nil {
		return NonRetriable(fmt.Errorf("malformed invoice.uploaded payload: %w", err))
	}
	return o.Run(ctx, payload.TenantID, payload.InvoiceID, events.Attempt(e))
}

// Run processes a single invoice. attempt is the delivery attempt number,
// zero for a first delivery; it is recorded as the job's retry count.
func (o *Orchestrator) Run(ctx context.Context, tenantID, invoiceID uuid.UUID, attempt int) error {
	log := o.log.With().
		Str("tenant_id", tenantID.String()).
		Str("invoice_id", invoiceID.String()).
		Int("attempt", attempt).
		Logger()

	inv, err := o.invoices.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Warn().Msg("invoice not found, dropping event")
			return NonRetriable(err)
		}
		return fmt.Errorf("failed to load invoice: %w", err)
	}
	if !inv.Status.Processable() {
		log.Warn().Str("status", string(inv.Status)).Msg("invoice not processable, dropping event")
		return NonRetriable(fmt.Errorf("%w: %s", ErrInvoiceNotProcessable, inv.Status))
	}

	startedAt := now()
	job := &models.OCRJob{
		ID:         uuid.New(),
		InvoiceID:  inv.ID,
		TenantID:   inv.TenantID,
		Status:     models.JobProcessing,
		StartedAt:  &startedAt,
		RetryCount: attempt,
		MaxRetries: o.maxRetries,
	}
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, db.ErrDuplicateJob) {
			log.Warn().Msg("active job already exists for invoice, dropping event")
			return NonRetriable(err)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	log = log.With().Str("job_id", job.ID.String()).Logger()

	uploadedStatus := inv.Status
	if err := o.invoices.UpdateStatus(ctx, inv.TenantID, inv.ID, models.InvoiceProcessing); err != nil {
		err = fmt.Errorf("failed to mark invoice processing: %w", err)
		o.fail(context.WithoutCancel(ctx), job, models.StepPreprocess, err)
		return err
	}
	log.Info().Msg("processing started")

	var (
		rawText    string
		extraction *ai.Extraction
		validation services.ValidationResult
		result     models.JobResult
	)

	steps := []step{
		{models.StepOCR, func(ctx context.Context) (map[string]any, error) {
			if inv.HasClientOCR() {
				rawText = inv.ClientOCRText
				return map[string]any{
					"source":     "client-side",
					"confidence": inv.ClientOCRConfidence,
				}, nil
			}
			document, err := o.objects.Download(ctx, inv.FileRef)
			if err != nil {
				return nil, fmt.Errorf("failed to download document: %w", err)
			}
			res, err := o.recognizer.Recognize(ctx, document)
			if err != nil {
				return nil, err
			}
			rawText = res.Text
			return map[string]any{
				"source":     "server-side",
				"confidence": res.Confidence,
				"bytes":      len(document),
			}, nil
		}},
		{models.StepAIExtract, func(ctx context.Context) (map[string]any, error) {
			extraction, err = o.extractor.Extract(ctx, rawText)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"prompt_tokens":     extraction.Usage.PromptTokens,
				"completion_tokens": extraction.Usage.CompletionTokens,
				"total_tokens":      extraction.Usage.TotalTokens,
			}, nil
		}},
		{models.StepValidate, func(ctx context.Context) (map[string]any, error) {
			validation = services.ValidateExtraction(extraction.Fields)
			return map[string]any{
				"valid":  validation.Valid,
				"errors": validation.Errors,
			}, nil
		}},
		{models.StepSave, func(ctx context.Context) (map[string]any, error) {
			scores := extraction.Confidence.Map()
			overall := services.OverallConfidence(scores)
			needsReview := !validation.Valid ||
				services.RequiresReview(overall, scores, o.reviewThreshold)

			status := models.InvoiceExtracted
			if needsReview {
				status = models.InvoiceNeedsReview
			}

			processedAt := now()
			inv.Extracted = &extraction.Fields
			inv.Confidence = &extraction.Confidence
			inv.OverallConfidence = overall
			inv.RawText = rawText
			inv.Status = status
			inv.ProcessedAt = &processedAt
			if err := o.invoices.SaveExtraction(ctx, inv); err != nil {
				return nil, fmt.Errorf("failed to save extraction: %w", err)
			}

			result = models.JobResult{
				OverallConfidence: overall,
				ValidationErrors:  validation.Errors,
				NeedsReview:       needsReview,
			}
			if err := o.jobs.MarkCompleted(ctx, job.ID, result); err != nil {
				return nil, fmt.Errorf("failed to mark job completed: %w", err)
			}
			return map[string]any{
				"invoice_status":     string(status),
				"overall_confidence": overall,
				"needs_review":       needsReview,
			}, nil
		}},
	}

	if failed, err := o.runSteps(ctx, job, steps); err != nil {
		bg := context.WithoutCancel(ctx)
		o.fail(bg, job, failed, err)

		// Return the invoice to its uploaded status so a retry delivery can
		// pass the status guard; once the budget is spent there is no retry
		// coming and the invoice is marked FAILED.
		finalStatus := uploadedStatus
		if attempt >= o.maxRetries || IsNonRetriable(err) {
			finalStatus = models.InvoiceFailed
		}
		if uerr := o.invoices.UpdateStatus(bg, inv.TenantID, inv.ID, finalStatus); uerr != nil {
			log.Error().Err(uerr).Str("status", string(finalStatus)).Msg("failed to update invoice status after failure")
		}
		return err
	}

	log.Info().
		Str("invoice_status", string(inv.Status)).
		Int("overall_confidence", result.OverallConfidence).
		Bool("needs_review", result.NeedsReview).
		Msg("processing completed")

	o.emitCompleted(ctx, job, inv, result)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, job *models.OCRJob, failed models.Step, cause error) {
	o.log.Error().Err(cause).
		Str("job_id", job.ID.String()).
		Str("step", string(failed)).
		Msg("processing failed")
	if err := o.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		o.log.Error().Err(err).
			Str("job_id", job.ID.String()).
			Msg("failed to mark job failed")
	}
}

// emitCompleted publishes the completion event. A publish failure is logged
// but does not fail the job: the extraction is already persisted.
func (o *Orchestrator) emitCompleted(ctx context.Context, job *models.OCRJob, inv *models.Invoice, result models.JobResult) {
	e, err := events.NewEvent(events.TypeOCRJobCompleted, events.OCRJobCompleted{
		JobID:             job.ID,
		InvoiceID:         inv.ID,
		TenantID:          inv.TenantID,
		InvoiceStatus:     string(inv.Status),
		OverallConfidence: result.OverallConfidence,
		NeedsReview:       result.NeedsReview,
	})
	if err == nil {
		err = o.bus.Publish(ctx, e)
	}
	if err != nil {
		o.log.Warn().Err(err).
			Str("job_id", job.ID.String()).
			Msg("failed to publish completion event")
	}
}
