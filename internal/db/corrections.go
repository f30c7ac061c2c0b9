package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
)

// CorrectionRepository persists the append-only correction ledger.
type CorrectionRepository struct {
	pool *pgxpool.Pool
}

func NewCorrectionRepository(pool *pgxpool.Pool) *CorrectionRepository {
	return &CorrectionRepository{pool: pool}
}

// AppendBatch writes a set of immutable correction records in a single
// transaction. If any insert fails the whole batch is rolled back, so a
// review never leaves a partial trail behind.
func (r *CorrectionRepository) AppendBatch(ctx context.Context, records []*models.Correction) error {
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, c := range records {
			if c.CreatedAt.IsZero() {
				c.CreatedAt = time.Now().UTC()
			}
			err := tx.QueryRow(ctx, `
				INSERT INTO corrections (invoice_id, tenant_id, field_path, original_value, corrected_value,
				                         original_confidence, corrected_by, notes, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
				RETURNING id`,
				c.InvoiceID, c.TenantID, c.FieldPath, c.OriginalValue, c.CorrectedValue,
				c.OriginalConfidence, c.CorrectedBy, c.Notes, c.CreatedAt,
			).Scan(&c.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
