package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/pkg/ctxlog"
)

// Recorder writes the audit trail of a dispatch: a queued log before any
// send, then exactly one final status.
type Recorder struct {
	repo LogRepository
	now  func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(repo LogRepository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

// Queue inserts log with Queued status and returns its id.
func (r *Recorder) Queue(ctx context.Context, log *domain.MessageLog) (string, error) {
	log.Status = domain.LogStatusQueued
	if err := r.repo.InsertLog(ctx, log); err != nil {
		return "", fmt.Errorf("%w: insert queued log: %v", ErrPersistence, err)
	}
	return log.ID, nil
}

// Succeed marks the log sent. note is stored as the error message and may
// be empty.
func (r *Recorder) Succeed(ctx context.Context, id string, retries int, note string) error {
	sentAt := r.now().UTC()
	update := LogUpdate{
		Status:     domain.LogStatusSuccess,
		RetryCount: retries,
		SentAt:     &sentAt,
	}
	if note != "" {
		update.ErrorMessage = &note
	}
	if err := r.repo.UpdateLogStatus(ctx, id, update); err != nil {
		return fmt.Errorf("%w: finalize log: %v", ErrPersistence, err)
	}
	return nil
}

// Fail marks the log failed. Errors are logged and never returned so they
// cannot replace the failure being recorded.
func (r *Recorder) Fail(ctx context.Context, id string, retries int, message string) {
	update := LogUpdate{
		Status:       domain.LogStatusFailed,
		ErrorMessage: &message,
		RetryCount:   retries,
	}
	if err := r.repo.UpdateLogStatus(ctx, id, update); err != nil {
		ctxlog.FromContext(ctx).Error("failed to mark log as failed",
			"log_id", id,
			"error", err,
		)
	}
}

// groupNote summarizes a group dispatch for the log.
func groupNote(failed, total int) string {
	return fmt.Sprintf("%d of %d recipients failed", failed, total)
}
