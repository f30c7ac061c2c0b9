package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturly/invoice-ocr-pipeline/internal/ai"
	"github.com/fakturly/invoice-ocr-pipeline/internal/db"
	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
	"github.com/fakturly/invoice-ocr-pipeline/internal/ocr"
)

type fakeInvoiceStore struct {
	invoice  *models.Invoice
	saved    bool
	statuses []models.InvoiceStatus
}

func (f *fakeInvoiceStore) GetInvoice(_ context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	if f.invoice == nil || f.invoice.ID != invoiceID || f.invoice.TenantID != tenantID {
		return nil, db.ErrNotFound
	}
	return f.invoice, nil
}

func (f *fakeInvoiceStore) UpdateStatus(_ context.Context, tenantID, invoiceID uuid.UUID, status models.InvoiceStatus) error {
	if f.invoice == nil || f.invoice.ID != invoiceID || f.invoice.TenantID != tenantID {
		return db.ErrNotFound
	}
	f.invoice.Status = status
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeInvoiceStore) SaveExtraction(_ context.Context, inv *models.Invoice) error {
	f.invoice = inv
	f.saved = true
	return nil
}

type fakeJobStore struct {
	duplicate bool
	created   *models.OCRJob
	completed *models.JobResult
	failedMsg string
}

func (f *fakeJobStore) CreateJob(_ context.Context, job *models.OCRJob) error {
	if f.duplicate {
		return db.ErrDuplicateJob
	}
	f.created = job
	return nil
}

func (f *fakeJobStore) MarkCompleted(_ context.Context, _ uuid.UUID, result models.JobResult) error {
	f.completed = &result
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, _ uuid.UUID, errMsg string) error {
	f.failedMsg = errMsg
	return nil
}

type fakeLogStore struct {
	entries []*models.ProcessingLogEntry
}

func (f *fakeLogStore) Append(_ context.Context, entry *models.ProcessingLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLogStore) find(step models.Step, status models.StepStatus) *models.ProcessingLogEntry {
	for _, e := range f.entries {
		if e.Step == step && e.Status == status {
			return e
		}
	}
	return nil
}

type fakeObjectStore struct {
	document   []byte
	downloaded bool
}

func (f *fakeObjectStore) Download(context.Context, string) ([]byte, error) {
	f.downloaded = true
	return f.document, nil
}

type fakeRecognizer struct {
	result *ocr.Result
	err    error
	called bool
}

func (f *fakeRecognizer) Recognize(context.Context, []byte) (*ocr.Result, error) {
	f.called = true
	return f.result, f.err
}

type fakeExtractor struct {
	extraction *ai.Extraction
	err        error
	gotText    string
}

func (f *fakeExtractor) Extract(_ context.Context, rawText string) (*ai.Extraction, error) {
	f.gotText = rawText
	return f.extraction, f.err
}

type fakePublisher struct {
	events []cloudevents.Event
}

func (f *fakePublisher) Publish(_ context.Context, e cloudevents.Event) error {
	f.events = append(f.events, e)
	return nil
}

func goodExtraction() *ai.Extraction {
	return &ai.Extraction{
		Fields: models.ExtractedData{
			InvoiceNumber: "FV/2024/02/7",
			IssueDate:     "2024-02-01",
			NetAmount:     decimal.NewFromInt(1000),
			VATAmount:     decimal.NewFromInt(230),
			GrossAmount:   decimal.NewFromInt(1230),
			Currency:      "PLN",
			Seller:        models.Party{Name: "Alfa Sp. z o.o.", NIP: "1234567890"},
			Buyer:         models.Party{Name: "Beta S.A.", NIP: "0987654321"},
		},
		Confidence: models.ConfidenceScores{
			InvoiceNumber: 95, IssueDate: 90, DueDate: 85,
			NetAmount: 92, VATAmount: 91, GrossAmount: 93,
			Currency: 99, SellerNIP: 88, SellerName: 87,
			BuyerNIP: 86, BuyerName: 85,
		},
		Usage: ai.TokenUsage{PromptTokens: 800, CompletionTokens: 150, TotalTokens: 950},
	}
}

type fixture struct {
	invoices   *fakeInvoiceStore
	jobs       *fakeJobStore
	logs       *fakeLogStore
	objects    *fakeObjectStore
	recognizer *fakeRecognizer
	extractor  *fakeExtractor
	publisher  *fakePublisher
	orch       *Orchestrator
}

func newFixture(inv *models.Invoice) *fixture {
	f := &fixture{
		invoices:   &fakeInvoiceStore{invoice: inv},
		jobs:       &fakeJobStore{},
		logs:       &fakeLogStore{},
		objects:    &fakeObjectStore{document: []byte("jpeg bytes")},
		recognizer: &fakeRecognizer{result: &ocr.Result{Text: "FAKTURA VAT FV/2024/02/7", Confidence: 87.5}},
		extractor:  &fakeExtractor{extraction: goodExtraction()},
		publisher:  &fakePublisher{},
	}
	f.orch = NewOrchestrator(
		f.invoices, f.jobs, f.logs, f.objects, f.recognizer, f.extractor, f.publisher,
		Config{ReviewThreshold: 80, MaxRetries: 3, StepTimeout: 5 * time.Second},
		zerolog.Nop(),
	)
	return f
}

func uploadedInvoice() *models.Invoice {
	return &models.Invoice{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		FileRef:  "tenant/2024/02/doc.jpg",
		Status:   models.InvoiceUploaded,
	}
}

func TestRunHappyPath(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, models.InvoiceExtracted, f.invoices.invoice.Status)
	assert.Equal(t, []models.InvoiceStatus{models.InvoiceProcessing}, f.invoices.statuses)
	assert.Equal(t, "FAKTURA VAT FV/2024/02/7", f.invoices.invoice.RawText)
	require.NotNil(t, f.invoices.invoice.ProcessedAt)
	require.NotNil(t, f.invoices.invoice.Extracted)
	assert.Equal(t, "FV/2024/02/7", f.invoices.invoice.Extracted.InvoiceNumber)

	require.NotNil(t, f.jobs.completed)
	assert.False(t, f.jobs.completed.NeedsReview)
	assert.Empty(t, f.jobs.completed.ValidationErrors)
	assert.Equal(t, 90, f.jobs.completed.OverallConfidence)

	for _, step := range []models.Step{models.StepOCR, models.StepAIExtract, models.StepValidate, models.StepSave} {
		assert.NotNil(t, f.logs.find(step, models.StepStarted), "missing STARTED for %s", step)
		assert.NotNil(t, f.logs.find(step, models.StepCompleted), "missing COMPLETED for %s", step)
	}

	ocrLog := f.logs.find(models.StepOCR, models.StepCompleted)
	assert.Equal(t, "server-side", ocrLog.Metadata["source"])

	extractLog := f.logs.find(models.StepAIExtract, models.StepCompleted)
	assert.Equal(t, 950, extractLog.Metadata["total_tokens"])

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "com.fakturly.ocr.job.completed", f.publisher.events[0].Type())
}

func TestRunValidationErrorsRouteToReview(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)
	f.extractor.extraction.Fields.GrossAmount = decimal.NewFromInt(1300)

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, models.InvoiceNeedsReview, f.invoices.invoice.Status)
	require.NotNil(t, f.jobs.completed)
	assert.True(t, f.jobs.completed.NeedsReview)
	assert.NotEmpty(t, f.jobs.completed.ValidationErrors)
}

func TestRunLowCriticalConfidenceRoutesToReview(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)
	f.extractor.extraction.Confidence.GrossAmount = 50

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, models.InvoiceNeedsReview, f.invoices.invoice.Status)
	require.NotNil(t, f.jobs.completed)
	assert.True(t, f.jobs.completed.NeedsReview)
	assert.Empty(t, f.jobs.completed.ValidationErrors)
}

func TestRunClientOCRSkipsRecognizer(t *testing.T) {
	inv := uploadedInvoice()
	inv.Status = models.InvoiceUploadedWithOCR
	inv.ClientOCRText = "FAKTURA VAT scanned on device"
	inv.ClientOCRConfidence = 82
	f := newFixture(inv)

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 0)
	require.NoError(t, err)

	assert.False(t, f.recognizer.called)
	assert.False(t, f.objects.downloaded)
	assert.Equal(t, "FAKTURA VAT scanned on device", f.extractor.gotText)

	ocrLog := f.logs.find(models.StepOCR, models.StepCompleted)
	require.NotNil(t, ocrLog)
	assert.Equal(t, "client-side", ocrLog.Metadata["source"])
	assert.Equal(t, 82, ocrLog.Metadata["confidence"])
}

func TestRunRecordsAttemptAsRetryCount(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 2)
	require.NoError(t, err)

	require.NotNil(t, f.jobs.created)
	assert.Equal(t, 2, f.jobs.created.RetryCount)
	assert.Equal(t, 3, f.jobs.created.MaxRetries)
}

func TestRunInvoiceNotFoundIsNonRetriable(t *testing.T) {
	f := newFixture(uploadedInvoice())

	err := f.orch.Run(context.Background(), uuid.New(), uuid.New(), 0)

	require.Error(t, err)
	assert.True(t, IsNonRetriable(err))
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRunAlreadyProcessedIsNonRetriable(t *testing.T) {
	inv := uploadedInvoice()
	inv.Status = models.InvoiceExtracted
	f := newFixture(inv)

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 0)

	require.Error(t, err)
	assert.True(t, IsNonRetriable(err))
	assert.ErrorIs(t, err, ErrInvoiceNotProcessable)
	assert.Nil(t, f.jobs.created)
}

func TestRunDuplicateJobIsNonRetriable(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)
	f.jobs.duplicate = true

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 0)

	require.Error(t, err)
	assert.True(t, IsNonRetriable(err))
	assert.ErrorIs(t, err, db.ErrDuplicateJob)
	assert.False(t, f.invoices.saved)
}

func TestRunExtractionFailureMarksJobFailed(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)
	f.extractor.extraction = nil
	f.extractor.err = errors.New("provider returned no content")

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 0)

	require.Error(t, err)
	assert.False(t, IsNonRetriable(err))
	assert.Equal(t, "provider returned no content", f.jobs.failedMsg)
	assert.False(t, f.invoices.saved)
	// Invoice goes back to its uploaded status so a retry passes the guard.
	assert.Equal(t, []models.InvoiceStatus{models.InvoiceProcessing, models.InvoiceUploaded}, f.invoices.statuses)
	assert.Equal(t, models.InvoiceUploaded, f.invoices.invoice.Status)

	failedLog := f.logs.find(models.StepAIExtract, models.StepFailed)
	require.NotNil(t, failedLog)
	assert.Equal(t, "provider returned no content", failedLog.Metadata["error"])

	assert.Empty(t, f.publisher.events)
}

func TestRunExhaustedRetriesMarkInvoiceFailed(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)
	f.extractor.extraction = nil
	f.extractor.err = errors.New("provider returned no content")

	// Attempt equals MaxRetries, so no redelivery is coming.
	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 3)

	require.Error(t, err)
	assert.Equal(t, []models.InvoiceStatus{models.InvoiceProcessing, models.InvoiceFailed}, f.invoices.statuses)
	assert.Equal(t, models.InvoiceFailed, f.invoices.invoice.Status)
}

func TestRunNonRetriableStepFailureMarksInvoiceFailed(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)
	f.recognizer.result = nil
	f.recognizer.err = NonRetriable(errors.New("unsupported document format"))

	err := f.orch.Run(context.Background(), inv.TenantID, inv.ID, 0)

	require.Error(t, err)
	assert.True(t, IsNonRetriable(err))
	assert.Equal(t, models.InvoiceFailed, f.invoices.invoice.Status)
}

func TestHandleInvoiceUploadedDecodesPayload(t *testing.T) {
	inv := uploadedInvoice()
	f := newFixture(inv)

	e := cloudevents.NewEvent()
	e.SetID(uuid.New().String())
	e.SetSource("test")
	e.SetType("com.fakturly.invoice.uploaded")
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, map[string]any{
		"invoice_id": inv.ID.String(),
		"tenant_id":  inv.TenantID.String(),
		"file_ref":   inv.FileRef,
	}))

	require.NoError(t, f.orch.HandleInvoiceUploaded(context.Background(), e))
	assert.Equal(t, models.InvoiceExtracted, f.invoices.invoice.Status)
}
