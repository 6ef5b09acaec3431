package notifications

import (
	"context"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
)

// TargetRepository resolves stored recipients.
type TargetRepository interface {
	// GetTarget returns ErrTargetNotFound when id does not exist.
	GetTarget(ctx context.Context, id string) (*domain.Target, error)
	// ExpandGroupAddresses returns the addresses of active contacts in the
	// group and all of its active descendants. A missing or inactive group
	// yields an empty result.
	ExpandGroupAddresses(ctx context.Context, groupID string) ([]string, error)
}

// TemplateRepository resolves message templates.
type TemplateRepository interface {
	// GetTemplate looks a template up by id or code and returns
	// ErrTemplateNotFound when neither matches.
	GetTemplate(ctx context.Context, idOrCode string) (*domain.Template, error)
}

// LogUpdate is the final state written to a queued log.
type LogUpdate struct {
	Status       domain.LogStatus
	ErrorMessage *string
	RetryCount   int
	SentAt       *time.Time
}

// LogRepository persists message logs.
type LogRepository interface {
	// InsertLog stores a queued log and sets its ID and CreatedAt.
	InsertLog(ctx context.Context, log *domain.MessageLog) error
	// UpdateLogStatus finalizes a queued log. It returns ErrLogNotFound for
	// an unknown id and ErrLogAlreadyFinal when the log is not queued.
	UpdateLogStatus(ctx context.Context, id string, update LogUpdate) error
	GetLog(ctx context.Context, id string) (*domain.MessageLog, error)
}

// Repository is the storage contract of the dispatch engine.
type Repository interface {
	TargetRepository
	TemplateRepository
	LogRepository
	Ping(ctx context.Context) error
}
