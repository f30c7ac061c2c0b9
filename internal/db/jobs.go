package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
)

// JobRepository persists OCR jobs. Status transitions are performed only by
// the pipeline orchestrator.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// uniqueViolation is the Postgres error code for a unique-constraint breach.
const uniqueViolation = "23505"

// CreateJob inserts a new job row. The partial unique index
// ocr_jobs_one_active_per_invoice rejects a second QUEUED/PROCESSING job for
// the same invoice; that violation is mapped to ErrDuplicateJob and no row
// is created.
func (r *JobRepository) CreateJob(ctx context.Context, job *models.OCRJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO ocr_jobs (id, invoice_id, tenant_id, status, started_at, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.InvoiceID, job.TenantID, job.Status,
		job.StartedAt, job.RetryCount, job.MaxRetries, job.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateJob
	}
	return err
}

// GetJob loads one job scoped by tenant. Foreign jobs read as not found.
func (r *JobRepository) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.OCRJob, error) {
	var (
		job        models.OCRJob
		resultJSON []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, invoice_id, tenant_id, status, started_at, completed_at,
		       COALESCE(error_message, ''), retry_count, max_retries, result, created_at
		FROM ocr_jobs
		WHERE id = $1 AND tenant_id = $2`,
		jobID, tenantID,
	).Scan(
		&job.ID, &job.InvoiceID, &job.TenantID, &job.Status,
		&job.StartedAt, &job.CompletedAt,
		&job.ErrorMessage, &job.RetryCount, &job.MaxRetries, &resultJSON, &job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(resultJSON) > 0 {
		job.Result = &models.JobResult{}
		if err := json.Unmarshal(resultJSON, job.Result); err != nil {
			return nil, fmt.Errorf("corrupt result for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

// MarkCompleted transitions the job to COMPLETED with its result summary.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID uuid.UUID, result models.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE ocr_jobs
		SET status = $1, completed_at = NOW(), result = $2
		WHERE id = $3`,
		models.JobCompleted, resultJSON, jobID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed transitions the job to FAILED with the error message.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ocr_jobs
		SET status = $1, completed_at = NOW(), error_message = $2
		WHERE id = $3`,
		models.JobFailed, errMsg, jobID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountQueuedBefore returns how many of the tenant's jobs were queued
// earlier than the given creation time. Used for queue-position projection.
func (r *JobRepository) CountQueuedBefore(ctx context.Context, tenantID uuid.UUID, createdAt time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM ocr_jobs
		WHERE tenant_id = $1 AND status = $2 AND created_at < $3`,
		tenantID, models.JobQueued, createdAt,
	).Scan(&count)
	return count, err
}
