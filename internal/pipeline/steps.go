package pipeline

import (
	"context"
	"time"

	"github.com/fakturly/invoice-ocr-pipeline/internal/models"
)

// stepFunc runs one pipeline stage and returns metadata for its COMPLETED
// log entry.
type stepFunc func(ctx context.Context) (map[string]any, error)

type step struct {
	name models.Step
	run  stepFunc
}

// runSteps executes the steps in order, bracketing each with STARTED and
// COMPLETED/FAILED log entries. Each step runs under its own timeout. On
// failure it returns the failing step's name together with the error.
func (o *Orchestrator) runSteps(ctx context.Context, job *models.OCRJob, steps []step) (models.Step, error) {
	for _, s := range steps {
		if err := o.appendLog(ctx, job, s.name, models.StepStarted, nil); err != nil {
			return s.name, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		meta, err := s.run(stepCtx)
		cancel()

		if err != nil {
			o.appendLog(context.WithoutCancel(ctx), job, s.name, models.StepFailed, map[string]any{
				"error": err.Error(),
			})
			return s.name, err
		}
		if err := o.appendLog(ctx, job, s.name, models.StepCompleted, meta); err != nil {
			return s.name, err
		}
	}
	return "", nil
}

func (o *Orchestrator) appendLog(ctx context.Context, job *models.OCRJob, name models.Step, status models.StepStatus, meta map[string]any) error {
	entry := &models.ProcessingLogEntry{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Step:     name,
		Status:   status,
		Metadata: meta,
	}
	if err := o.logs.Append(ctx, entry); err != nil {
		o.log.Error().Err(err).
			Str("job_id", job.ID.String()).
			Str("step", string(name)).
			Msg("failed to append processing log entry")
		return err
	}
	return nil
}

// now is swapped out in tests.
var now = time.Now
