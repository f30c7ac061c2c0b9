package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/fakturly/invoice-ocr-pipeline/internal/auth"
	"github.com/fakturly/invoice-ocr-pipeline/internal/config"
	"github.com/fakturly/invoice-ocr-pipeline/internal/db"
	"github.com/fakturly/invoice-ocr-pipeline/internal/events"
	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
	"github.com/fakturly/invoice-ocr-pipeline/internal/ocr"
	"github.com/fakturly/invoice-ocr-pipeline/internal/services"
	"github.com/fakturly/invoice-ocr-pipeline/internal/storage"
)

const Version = "1.0.0"

// MaxUploadSize caps invoice document uploads at 10MB.
const MaxUploadSize = 10 << 20

// StatusQuerier projects job state for polling clients.
type StatusQuerier interface {
	JobStatus(ctx context.Context, tenantID, jobID uuid.UUID) (*services.JobStatusView, error)
}

// Reviewer handles the human correction and approval workflow.
type Reviewer interface {
	SubmitCorrections(ctx context.Context, tenantID, invoiceID, actor uuid.UUID, inputs []services.CorrectionInput, notes string) (*services.ReviewResult, error)
	Approve(ctx context.Context, tenantID, invoiceID, actor uuid.UUID) (*models.Invoice, error)
}

// InvoiceStore loads and creates tenant-scoped invoices.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	CreateInvoice(ctx context.Context, inv *models.Invoice) error
	UpdateStatus(ctx context.Context, tenantID, invoiceID uuid.UUID, status models.InvoiceStatus) error
}

// Uploader stores invoice documents under a tenant-scoped object path.
type Uploader interface {
	Upload(ctx context.Context, tenant, filename string, reader io.Reader, size int64, contentType string) (string, error)
}

// Pinger reports database liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the pipeline's HTTP surface: document upload, job status
// polling, the review workflow and manual processing triggers.
type Handler struct {
	status   StatusQuerier
	review   Reviewer
	invoices InvoiceStore
	bus      events.Publisher
	pool     Pinger
	storage  Uploader
	cfg      *config.Config
	log      zerolog.Logger
}

func NewHandler(status StatusQuerier, review Reviewer, invoices InvoiceStore, bus events.Publisher, pool Pinger, storage Uploader, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		status:   status,
		review:   review,
		invoices: invoices,
		bus:      bus,
		pool:     pool,
		storage:  storage,
		cfg:      cfg,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// SetupRoutes configures the HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/invoices", h.UploadInvoice).Methods("POST")
	router.HandleFunc("/api/ocr/jobs/{id}/status", h.GetJobStatus).Methods("GET")
	router.HandleFunc("/api/invoices/{id}/corrections", h.SubmitCorrections).Methods("POST")
	router.HandleFunc("/api/invoices/{id}/approve", h.ApproveInvoice).Methods("POST")
	router.HandleFunc("/api/invoices/{id}/process", h.ProcessInvoice).Methods("POST")

	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// UploadInvoice accepts a multipart invoice document, stores it under the
// tenant's object path, creates the invoice record and queues extraction.
// Clients that already ran on-device OCR can send the text along in the
// ocr_text and ocr_confidence form fields to skip the server-side OCR step.
func (h *Handler) UploadInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form data")
		return
	}

	// Accept both "file" and "image" field names.
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "no file provided (use 'file' or 'image' field)")
			return
		}
	}
	defer file.Close()

	document, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	if _, err := ocr.DetectFormat(document); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(document)
	}
	filename := uuid.New().String() + storage.FileExtension(contentType)

	fileRef, err := h.storage.Upload(r.Context(), claims.TenantID.String(), filename,
		bytes.NewReader(document), int64(len(document)), contentType)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to store document")
		h.sendError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	inv := &models.Invoice{
		TenantID: claims.TenantID,
		FileRef:  fileRef,
		Status:   models.InvoiceUploaded,
	}
	if text := r.FormValue("ocr_text"); text != "" {
		inv.Status = models.InvoiceUploadedWithOCR
		inv.ClientOCRText = text
		if conf, err := strconv.Atoi(r.FormValue("ocr_confidence")); err == nil {
			inv.ClientOCRConfidence = conf
		}
	}
	if err := h.invoices.CreateInvoice(r.Context(), inv); err != nil {
		h.log.Error().Err(err).Msg("failed to create invoice")
		h.sendError(w, http.StatusInternalServerError, "failed to create invoice")
		return
	}

	if err := h.queueProcessing(r.Context(), inv); err != nil {
		h.log.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("failed to publish upload event")
		h.sendError(w, http.StatusInternalServerError, "failed to queue processing")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"invoice_id": inv.ID.String(),
		"file_ref":   inv.FileRef,
		"status":     "queued",
	})
}

// queueProcessing publishes the upload event that triggers extraction.
func (h *Handler) queueProcessing(ctx context.Context, inv *models.Invoice) error {
	e, err := events.NewEvent(events.TypeInvoiceUploaded, events.InvoiceUploaded{
		InvoiceID: inv.ID,
		TenantID:  inv.TenantID,
		FileRef:   inv.FileRef,
	})
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, e)
}

// GetJobStatus returns the polling view for one job. Jobs of other tenants
// surface as 404, never as a permission error.
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	view, err := h.status.JobStatus(r.Context(), claims.TenantID, jobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to build job status")
		h.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	json.NewEncoder(w).Encode(view)
}

type correctionsRequest struct {
	Corrections []services.CorrectionInput `json:"corrections"`
	Notes       string                     `json:"notes,omitempty"`
}

// SubmitCorrections applies reviewer edits to an extracted invoice.
func (h *Handler) SubmitCorrections(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	invoiceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}

	var req correctionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Corrections) == 0 {
		h.sendError(w, http.StatusBadRequest, "no corrections provided")
		return
	}

	result, err := h.review.SubmitCorrections(r.Context(), claims.TenantID, invoiceID, claims.UserID, req.Corrections, req.Notes)
	if err != nil {
		h.sendReviewError(w, invoiceID, err)
		return
	}
	json.NewEncoder(w).Encode(result)
}

// ApproveInvoice freezes a reviewed invoice as VERIFIED.
func (h *Handler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	invoiceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}

	inv, err := h.review.Approve(r.Context(), claims.TenantID, invoiceID, claims.UserID)
	if err != nil {
		h.sendReviewError(w, invoiceID, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"id":          inv.ID,
		"status":      inv.Status,
		"approved_at": inv.ApprovedAt,
	})
}

// ProcessInvoice manually triggers the extraction pipeline for an uploaded
// invoice, the same path an upload event takes. A FAILED invoice whose retry
// budget ran out is re-armed to its uploaded status first, so the manual
// retry passes the pipeline's status guard.
func (h *Handler) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	invoiceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}

	inv, err := h.invoices.GetInvoice(r.Context(), claims.TenantID, invoiceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "invoice not found")
			return
		}
		h.log.Error().Err(err).Str("invoice_id", invoiceID.String()).Msg("failed to load invoice")
		h.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if inv.Status == models.InvoiceFailed {
		status := models.InvoiceUploaded
		if inv.HasClientOCR() {
			status = models.InvoiceUploadedWithOCR
		}
		if err := h.invoices.UpdateStatus(r.Context(), claims.TenantID, inv.ID, status); err != nil {
			h.log.Error().Err(err).Str("invoice_id", invoiceID.String()).Msg("failed to re-arm failed invoice")
			h.sendError(w, http.StatusInternalServerError, "internal error")
			return
		}
		inv.Status = status
	}
	if !inv.Status.Processable() {
		h.sendError(w, http.StatusConflict, "invoice is not in a processable status")
		return
	}

	if err := h.queueProcessing(r.Context(), inv); err != nil {
		h.log.Error().Err(err).Str("invoice_id", invoiceID.String()).Msg("failed to publish upload event")
		h.sendError(w, http.StatusInternalServerError, "failed to queue processing")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"invoice_id": inv.ID.String(),
		"status":     "queued",
	})
}

func (h *Handler) sendReviewError(w http.ResponseWriter, invoiceID uuid.UUID, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.sendError(w, http.StatusNotFound, "invoice not found")
	case errors.Is(err, services.ErrInvoiceApproved),
		errors.Is(err, services.ErrInvoiceNotReviewed),
		errors.Is(err, services.ErrNoExtraction):
		h.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidCorrection):
		h.sendError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("invoice_id", invoiceID.String()).Msg("review operation failed")
		h.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// HealthResponse is the health check response structure.
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Timestamp   string            `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	Memory      MemoryStats       `json:"memory"`
	Tesseract   ServiceStatus     `json:"tesseract"`
	ImageMagick ServiceStatus     `json:"imageMagick"`
	Database    ServiceStatus     `json:"database"`
	Storage     ServiceStatus     `json:"storage"`
	AI          map[string]string `json:"ai"`
}

// MemoryStats reports process memory usage.
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus reports one dependency's availability.
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports service and dependency status for monitoring.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	tesseractStatus := checkCommand("tesseract", "--version")
	imageMagickStatus := checkImageMagick()
	databaseStatus := h.checkDatabase(r.Context())
	storageStatus := h.checkStorage()

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: formatMB(m.Alloc),
			Total:     formatMB(m.TotalAlloc),
			System:    formatMB(m.Sys),
		},
		Tesseract:   tesseractStatus,
		ImageMagick: imageMagickStatus,
		Database:    databaseStatus,
		Storage:     storageStatus,
		AI: map[string]string{
			"defaultProvider": h.cfg.AI.DefaultProvider,
			"ocrEngine":       h.cfg.OCR.Engine,
		},
	}

	if !tesseractStatus.Available || !databaseStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func checkCommand(name string, args ...string) ServiceStatus {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return ServiceStatus{
			Available: false,
			Error:     name + " not found or not executable",
		}
	}
	version := "unknown"
	if lines := strings.Split(string(output), "\n"); len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}
	return ServiceStatus{Available: true, Version: version}
}

// checkImageMagick probes v7 first, then the legacy convert binary.
func checkImageMagick() ServiceStatus {
	if status := checkCommand("magick", "-version"); status.Available {
		return status
	}
	return checkCommand("convert", "-version")
}

func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.pool == nil {
		return ServiceStatus{Available: false, Error: "database pool not initialized"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.pool.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

func (h *Handler) checkStorage() ServiceStatus {
	if h.storage == nil {
		return ServiceStatus{Available: false, Error: "storage client not initialized"}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

func formatMB(b uint64) string {
	return fmt.Sprintf("%.2f MB", float64(b)/1024/1024)
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
