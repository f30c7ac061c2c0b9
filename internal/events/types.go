package events

import (
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

const (
	// TypeInvoiceUploaded triggers the extraction pipeline.
	TypeInvoiceUploaded = "com.fakturly.invoice.uploaded"
	// TypeOCRJobCompleted is emitted for downstream consumers (status
	// pollers, notification senders) when a job finishes.
	TypeOCRJobCompleted = "com.fakturly.ocr.job.completed"

	source = "fakturly/invoice-ocr-pipeline"

	// attemptExtension carries the runtime's delivery attempt number, which
	// becomes the job's retry count.
	attemptExtension = "attempt"
)

// InvoiceUploaded is the payload of TypeInvoiceUploaded.
type InvoiceUploaded struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	FileRef   string    `json:"file_ref"`
}

// OCRJobCompleted is the payload of TypeOCRJobCompleted.
type OCRJobCompleted struct {
	JobID             uuid.UUID `json:"job_id"`
	InvoiceID         uuid.UUID `json:"invoice_id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	InvoiceStatus     string    `json:"invoice_status"`
	OverallConfidence int       `json:"overall_confidence"`
	NeedsReview       bool      `json:"needs_review"`
}

// NewEvent builds a cloudevents envelope of the given type around a JSON
// payload.
func NewEvent(eventType string, payload any) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.New().String())
	e.SetSource(source)
	e.SetType(eventType)
	if err := e.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return e, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return e, nil
}

// Attempt reads the delivery attempt number from an event envelope, zero
// for a first delivery.
func Attempt(e cloudevents.Event) int {
	v, ok := e.Extensions()[attemptExtension]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
