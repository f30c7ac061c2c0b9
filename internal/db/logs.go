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

// LogRepository persists the append-only processing log. Entries are never
// updated or deleted.
type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Append writes one step-transition entry.
func (r *LogRepository) Append(ctx context.Context, entry *models.ProcessingLogEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal log metadata: %w", err)
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return r.pool.QueryRow(ctx, `
		INSERT INTO processing_log (job_id, tenant_id, step, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.JobID, entry.TenantID, entry.Step, entry.Status, metadataJSON, entry.CreatedAt,
	).Scan(&entry.ID)
}

// Latest returns the most recent entry for a job. Steps run strictly
// sequentially, so this identifies the job's current step.
func (r *LogRepository) Latest(ctx context.Context, jobID uuid.UUID) (*models.ProcessingLogEntry, error) {
	return r.latestWhere(ctx, jobID, "")
}

// LatestFailed returns the most recent FAILED entry for a job, identifying
// the step a failed job died in.
func (r *LogRepository) LatestFailed(ctx context.Context, jobID uuid.UUID) (*models.ProcessingLogEntry, error) {
	return r.latestWhere(ctx, jobID, string(models.StepFailed))
}

func (r *LogRepository) latestWhere(ctx context.Context, jobID uuid.UUID, status string) (*models.ProcessingLogEntry, error) {
	query := `
		SELECT id, job_id, tenant_id, step, status, metadata, created_at
		FROM processing_log
		WHERE job_id = $1`
	args := []any{jobID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var (
		entry        models.ProcessingLogEntry
		metadataJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&entry.ID, &entry.JobID, &entry.TenantID, &entry.Step, &entry.Status, &metadataJSON, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for log entry %d: %w", entry.ID, err)
		}
	}
	return &entry, nil
}
