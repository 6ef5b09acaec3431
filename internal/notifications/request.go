package notifications

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// RequestKind selects the dispatch variant.
type RequestKind string

// Dispatch variants.
const (
	KindChat       RequestKind = "chat"
	KindEmail      RequestKind = "email"
	KindGroupEmail RequestKind = "group_email"
)

// Channel returns the transport used by the variant.
func (k RequestKind) Channel() domain.ChannelType {
	if k == KindChat {
		return domain.ChannelTypeTelegram
	}
	return domain.ChannelTypeEmail
}

// TargetKind tags how TargetRef.ID is interpreted.
type TargetKind string

// Target kinds.
const (
	TargetChatID  TargetKind = "chat_id"     // raw chat id, no lookup
	TargetChat    TargetKind = "chat_target" // stored chat target
	TargetAddress TargetKind = "address"     // raw email address, no lookup
	TargetContact TargetKind = "contact"     // stored email contact
	TargetGroup   TargetKind = "group"       // stored email group, expanded recursively
)

// TargetRef identifies the recipient(s) of a dispatch.
type TargetRef struct {
	Kind TargetKind
	ID   string
}

func (r TargetRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// stored reports whether the reference points at a repository record.
func (r TargetRef) stored() bool {
	return r.Kind == TargetChat || r.Kind == TargetContact || r.Kind == TargetGroup
}

var allowedTargets = map[RequestKind][]TargetKind{
	KindChat:       {TargetChatID, TargetChat},
	KindEmail:      {TargetAddress, TargetContact},
	KindGroupEmail: {TargetGroup},
}

// Request is one notification to dispatch.
type Request struct {
	Kind       RequestKind
	Target     TargetRef
	Subject    string
	Body       string
	TemplateID string
	// Tokens are caller values for template placeholders. Keys are
	// case-insensitive and a nil value leaves the placeholder untouched.
	Tokens map[string]*string
	Locale string
	// ParseMode applies to chat messages only.
	ParseMode string
}

var chatIDPattern = regexp.MustCompile(`^(-?\d+|@[A-Za-z][A-Za-z0-9_]{4,})$`)

// ValidChatID reports whether id is a numeric chat id or a public @username.
func ValidChatID(id string) bool {
	return chatIDPattern.MatchString(id)
}

// validateRequest checks a request before any lookup is made.
func validateRequest(v *validator.Validate, req Request) error {
	targets, ok := allowedTargets[req.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown request kind %q", ErrValidation, req.Kind)
	}

	if req.Target.ID == "" {
		return fmt.Errorf("%w: target is required", ErrValidation)
	}

	allowed := false
	for _, k := range targets {
		if k == req.Target.Kind {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: target kind %q is not valid for %s", ErrValidation, req.Target.Kind, req.Kind)
	}

	switch {
	case req.Target.Kind == TargetChatID:
		if !ValidChatID(req.Target.ID) {
			return fmt.Errorf("%w: malformed chat id", ErrValidation)
		}
	case req.Target.Kind == TargetAddress:
		if err := v.Var(req.Target.ID, "email"); err != nil {
			return fmt.Errorf("%w: malformed email address", ErrValidation)
		}
	case req.Target.stored():
		if _, err := uuid.Parse(req.Target.ID); err != nil {
			return fmt.Errorf("%w: target id must be a uuid", ErrValidation)
		}
	}

	if strings.TrimSpace(req.Body) == "" && req.TemplateID == "" {
		return fmt.Errorf("%w: body or template is required", ErrValidation)
	}

	if req.Kind != KindChat && strings.TrimSpace(req.Subject) == "" && req.TemplateID == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}

	for key := range req.Tokens {
		if !validTokenKey(key) {
			return fmt.Errorf("%w: invalid token key %q", ErrValidation, key)
		}
	}

	if req.Locale != "" {
		if _, err := language.Parse(req.Locale); err != nil {
			return fmt.Errorf("%w: invalid locale %q", ErrValidation, req.Locale)
		}
	}

	return nil
}

func validTokenKey(key string) bool {
	k := strings.TrimSpace(key)
	return k != "" && !strings.ContainsAny(k, "{}|")
}
