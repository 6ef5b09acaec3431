// Package directory manages the stored recipients and templates the
// dispatch engine resolves: chat targets, email contacts, email groups and
// message templates.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/notifications"
	"github.com/go-playground/validator/v10"
)

// Service implements directory business logic.
type Service struct {
	repo      Repository
	validator *validator.Validate
}

// NewService creates a new directory service.
func NewService(repo Repository) *Service {
	return &Service{
		repo:      repo,
		validator: validator.New(),
	}
}

// CreateTarget stores a chat target or email contact after checking that
// the address fits its type.
func (s *Service) CreateTarget(ctx context.Context, target *domain.Target) error {
	target.Address = strings.TrimSpace(target.Address)

	switch target.Type {
	case domain.TargetTypeChat:
		if !notifications.ValidChatID(target.Address) {
			return fmt.Errorf("%w: malformed chat id", ErrInvalidAddress)
		}
	case domain.TargetTypeContact:
		if err := s.validator.Var(target.Address, "email"); err != nil {
			return fmt.Errorf("%w: malformed email address", ErrInvalidAddress)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAddress, target.Type)
	}

	target.IsActive = true
	if err := s.repo.CreateTarget(ctx, target); err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	return nil
}

// GetTarget returns a target by ID.
func (s *Service) GetTarget(ctx context.Context, id string) (*domain.Target, error) {
	return s.repo.GetTarget(ctx, id)
}

// ListTargets returns targets matching the filter.
func (s *Service) ListTargets(ctx context.Context, filter TargetFilter) ([]domain.Target, error) {
	return s.repo.ListTargets(ctx, filter)
}

// SetTargetActive activates or deactivates a target. Inactive targets are
// rejected by the resolver and skipped by group expansion.
func (s *Service) SetTargetActive(ctx context.Context, id string, active bool) (*domain.Target, error) {
	if err := s.repo.SetTargetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.repo.GetTarget(ctx, id)
}

// CreateTemplate stores a template. Codes are unique.
func (s *Service) CreateTemplate(ctx context.Context, template *domain.Template) error {
	template.Code = strings.TrimSpace(template.Code)

	_, err := s.repo.GetTemplate(ctx, template.Code)
	switch {
	case err == nil:
		return ErrTemplateCodeExists
	case !errors.Is(err, notifications.ErrTemplateNotFound):
		return fmt.Errorf("check template code: %w", err)
	}

	if err := s.repo.CreateTemplate(ctx, template); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetTemplate returns a template by ID or code.
func (s *Service) GetTemplate(ctx context.Context, idOrCode string) (*domain.Template, error) {
	return s.repo.GetTemplate(ctx, idOrCode)
}

// ListTemplates returns all templates ordered by code.
func (s *Service) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	return s.repo.ListTemplates(ctx)
}

// DeleteTemplate removes a template. Logs keep the template id.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	return s.repo.DeleteTemplate(ctx, id)
}

// CreateGroup stores an email group, optionally nested under a parent.
func (s *Service) CreateGroup(ctx context.Context, group *domain.EmailGroup) error {
	if group.ParentID != nil {
		if _, err := s.repo.GetGroup(ctx, *group.ParentID); err != nil {
			if errors.Is(err, ErrGroupNotFound) {
				return ErrParentNotFound
			}
			return fmt.Errorf("get parent group: %w", err)
		}
	}

	group.IsActive = true
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// GetGroup returns a group by ID.
func (s *Service) GetGroup(ctx context.Context, id string) (*domain.EmailGroup, error) {
	return s.repo.GetGroup(ctx, id)
}

// ListGroups returns all groups.
func (s *Service) ListGroups(ctx context.Context) ([]domain.EmailGroup, error) {
	return s.repo.ListGroups(ctx)
}

// SetGroupActive activates or deactivates a group. An inactive group
// contributes no addresses, and neither do its descendants.
func (s *Service) SetGroupActive(ctx context.Context, id string, active bool) (*domain.EmailGroup, error) {
	if err := s.repo.SetGroupActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.repo.GetGroup(ctx, id)
}

// AddGroupMember adds a contact to a group. Adding an existing member is a
// no-op.
func (s *Service) AddGroupMember(ctx context.Context, groupID, targetID string) error {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return err
	}

	target, err := s.repo.GetTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Type != domain.TargetTypeContact {
		return ErrNotContact
	}

	return s.repo.AddGroupMember(ctx, groupID, targetID)
}

// RemoveGroupMember removes a contact from a group.
func (s *Service) RemoveGroupMember(ctx context.Context, groupID, targetID string) error {
	return s.repo.RemoveGroupMember(ctx, groupID, targetID)
}

// ListGroupMembers returns the direct members of a group.
func (s *Service) ListGroupMembers(ctx context.Context, groupID string) ([]domain.Target, error) {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListGroupMembers(ctx, groupID)
}

// GroupRecipients returns the addresses a group email would be sent to:
// valid, deduplicated case-insensitively, in first-seen order.
func (s *Service) GroupRecipients(ctx context.Context, groupID string) ([]string, error) {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	candidates, err := s.repo.ExpandGroupAddresses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	addresses, _ := notifications.NormalizeAddresses(s.validator, candidates)
	return addresses, nil
}
