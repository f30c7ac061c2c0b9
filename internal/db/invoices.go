package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
)

// InvoiceRepository persists invoice records. All reads are tenant-scoped.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

const invoiceColumns = `
	id, tenant_id, file_ref, status,
	extracted, confidence, overall_confidence, COALESCE(raw_text, ''),
	COALESCE(client_ocr_text, ''), COALESCE(client_ocr_confidence, 0),
	processed_at, reviewed_at, reviewed_by, approved_at, approved_by,
	created_at, updated_at`

// GetInvoice loads one invoice scoped by tenant.
func (r *InvoiceRepository) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1 AND tenant_id = $2`, invoiceColumns)

	row := r.pool.QueryRow(ctx, query, invoiceID, tenantID)
	return scanInvoice(row)
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var (
		inv            models.Invoice
		extractedJSON  []byte
		confidenceJSON []byte
	)
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.FileRef, &inv.Status,
		&extractedJSON, &confidenceJSON, &inv.OverallConfidence, &inv.RawText,
		&inv.ClientOCRText, &inv.ClientOCRConfidence,
		&inv.ProcessedAt, &inv.ReviewedAt, &inv.ReviewedBy, &inv.ApprovedAt, &inv.ApprovedBy,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(extractedJSON) > 0 {
		inv.Extracted = &models.ExtractedData{}
		if err := json.Unmarshal(extractedJSON, inv.Extracted); err != nil {
			return nil, fmt.Errorf("corrupt extracted data for invoice %s: %w", inv.ID, err)
		}
	}
	if len(confidenceJSON) > 0 {
		inv.Confidence = &models.ConfidenceScores{}
		if err := json.Unmarshal(confidenceJSON, inv.Confidence); err != nil {
			return nil, fmt.Errorf("corrupt confidence data for invoice %s: %w", inv.ID, err)
		}
	}
	return &inv, nil
}

// SaveExtraction writes the pipeline's result onto the invoice: extracted
// fields, confidence scores, raw text, new status and the processed stamp.
func (r *InvoiceRepository) SaveExtraction(ctx context.Context, inv *models.Invoice) error {
	extractedJSON, err := json.Marshal(inv.Extracted)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted data: %w", err)
	}
	confidenceJSON, err := json.Marshal(inv.Confidence)
	if err != nil {
		return fmt.Errorf("failed to marshal confidence scores: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET extracted = $1, confidence = $2, overall_confidence = $3,
		    raw_text = $4, status = $5, processed_at = $6, updated_at = NOW()
		WHERE id = $7 AND tenant_id = $8`,
		extractedJSON, confidenceJSON, inv.OverallConfidence,
		inv.RawText, inv.Status, inv.ProcessedAt,
		inv.ID, inv.TenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateReview writes corrected extracted data plus the review/approval
// stamps and status. Used by the correction ledger and the approval flow.
func (r *InvoiceRepository) UpdateReview(ctx context.Context, inv *models.Invoice) error {
	extractedJSON, err := json.Marshal(inv.Extracted)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted data: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET extracted = $1, status = $2,
		    reviewed_at = $3, reviewed_by = $4,
		    approved_at = $5, approved_by = $6,
		    updated_at = NOW()
		WHERE id = $7 AND tenant_id = $8`,
		extractedJSON, inv.Status,
		inv.ReviewedAt, inv.ReviewedBy,
		inv.ApprovedAt, inv.ApprovedBy,
		inv.ID, inv.TenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves an invoice to a new lifecycle status without touching
// any other field. Used by the pipeline for the PROCESSING/FAILED
// transitions around a run.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, tenantID, invoiceID uuid.UUID, status models.InvoiceStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3`,
		status, invoiceID, tenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInvoice inserts a freshly uploaded invoice record.
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO invoices (id, tenant_id, file_ref, status, client_ocr_text, client_ocr_confidence, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		inv.ID, inv.TenantID, inv.FileRef, inv.Status,
		inv.ClientOCRText, inv.ClientOCRConfidence, inv.CreatedAt,
	)
	return err
}
