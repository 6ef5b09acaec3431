package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/pkg/ctxlog"
	"github.com/go-playground/validator/v10"
)

// ResolvedTarget holds the concrete delivery addresses of a request.
type ResolvedTarget struct {
	Ref TargetRef
	// TargetID is the stored record id, empty for raw chat ids and addresses.
	TargetID    string
	DisplayName string
	// Addresses holds one chat id, one email address, or the deduplicated
	// addresses of a group in first-seen order.
	Addresses []string
	// Dropped counts group addresses discarded as malformed.
	Dropped int
}

// Resolver turns a TargetRef into delivery addresses.
type Resolver struct {
	repo     TargetRepository
	validate *validator.Validate
}

// NewResolver creates a resolver.
func NewResolver(repo TargetRepository, validate *validator.Validate) *Resolver {
	return &Resolver{repo: repo, validate: validate}
}

// Resolve returns the addresses for ref. Missing or inactive records fail
// with ErrTargetNotFound and empty groups with ErrNoActiveAddresses. A
// contact whose stored address is malformed fails validation.
func (r *Resolver) Resolve(ctx context.Context, ref TargetRef) (*ResolvedTarget, error) {
	switch ref.Kind {
	case TargetChatID, TargetAddress:
		return &ResolvedTarget{Ref: ref, Addresses: []string{ref.ID}}, nil
	case TargetChat:
		return r.resolveStored(ctx, ref, domain.TargetTypeChat)
	case TargetContact:
		return r.resolveStored(ctx, ref, domain.TargetTypeContact)
	case TargetGroup:
		return r.resolveGroup(ctx, ref)
	default:
		return nil, fmt.Errorf("%w: unknown target kind %q", ErrValidation, ref.Kind)
	}
}

func (r *Resolver) resolveStored(ctx context.Context, ref TargetRef, want domain.TargetType) (*ResolvedTarget, error) {
	target, err := r.repo.GetTarget(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}

	if !target.IsActive || target.Type != want {
		return nil, ErrTargetNotFound
	}

	address := strings.TrimSpace(target.Address)
	if want == domain.TargetTypeContact && !validEmail(r.validate, address) {
		return nil, &StageError{
			Stage: StageValidation,
			Err:   fmt.Errorf("%w: contact has a malformed address", ErrValidation),
		}
	}
	if address == "" {
		return nil, fmt.Errorf("%w: target has no address", ErrTargetNotFound)
	}

	return &ResolvedTarget{
		Ref:         ref,
		TargetID:    target.ID,
		DisplayName: target.DisplayName,
		Addresses:   []string{address},
	}, nil
}

func (r *Resolver) resolveGroup(ctx context.Context, ref TargetRef) (*ResolvedTarget, error) {
	candidates, err := r.repo.ExpandGroupAddresses(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("expand group: %w", err)
	}

	addresses, dropped := NormalizeAddresses(r.validate, candidates)
	if dropped > 0 {
		ctxlog.FromContext(ctx).Warn("dropped malformed group addresses",
			"group_id", ref.ID,
			"dropped", dropped,
		)
	}
	if len(addresses) == 0 {
		return nil, ErrNoActiveAddresses
	}

	return &ResolvedTarget{
		Ref:       ref,
		TargetID:  ref.ID,
		Addresses: addresses,
		Dropped:   dropped,
	}, nil
}

// NormalizeAddresses trims, validates and deduplicates addresses
// case-insensitively, keeping the first spelling seen. It is the exact list
// a group email is sent to.
func NormalizeAddresses(validate *validator.Validate, candidates []string) (valid []string, dropped int) {
	valid = make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		addr := strings.TrimSpace(c)
		if !validEmail(validate, addr) {
			dropped++
			continue
		}
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		valid = append(valid, addr)
	}
	return valid, dropped
}

func validEmail(validate *validator.Validate, addr string) bool {
	return addr != "" && validate.Var(addr, "email") == nil
}
