package directory

import (
	"context"

	"github.com/bissquit/notify-relay/internal/domain"
)

// TargetFilter narrows ListTargets.
type TargetFilter struct {
	Type            *domain.TargetType
	IncludeInactive bool
}

// Repository defines the interface for directory data operations.
type Repository interface {
	CreateTarget(ctx context.Context, target *domain.Target) error
	GetTarget(ctx context.Context, id string) (*domain.Target, error)
	ListTargets(ctx context.Context, filter TargetFilter) ([]domain.Target, error)
	SetTargetActive(ctx context.Context, id string, active bool) error

	CreateTemplate(ctx context.Context, template *domain.Template) error
	GetTemplate(ctx context.Context, idOrCode string) (*domain.Template, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	DeleteTemplate(ctx context.Context, id string) error

	CreateGroup(ctx context.Context, group *domain.EmailGroup) error
	GetGroup(ctx context.Context, id string) (*domain.EmailGroup, error)
	ListGroups(ctx context.Context) ([]domain.EmailGroup, error)
	SetGroupActive(ctx context.Context, id string, active bool) error
	AddGroupMember(ctx context.Context, groupID, targetID string) error
	RemoveGroupMember(ctx context.Context, groupID, targetID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]domain.Target, error)
	ExpandGroupAddresses(ctx context.Context, groupID string) ([]string, error)
}
