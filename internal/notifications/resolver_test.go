package notifications

import (
	"context"
	"testing"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	repo := newMockRepository()
	chat := repo.addTarget(domain.TargetTypeChat, "-100500", true)
	inactiveChat := repo.addTarget(domain.TargetTypeChat, "-100501", false)
	contact := repo.addTarget(domain.TargetTypeContact, " ann@example.com ", true)
	badContact := repo.addTarget(domain.TargetTypeContact, "not-an-address", true)

	r := NewResolver(repo, validator.New())
	ctx := context.Background()

	t.Run("raw chat id needs no lookup", func(t *testing.T) {
		got, err := r.Resolve(ctx, TargetRef{TargetChatID, "12345"})
		require.NoError(t, err)
		assert.Equal(t, []string{"12345"}, got.Addresses)
		assert.Empty(t, got.TargetID)
	})

	t.Run("stored chat target", func(t *testing.T) {
		got, err := r.Resolve(ctx, TargetRef{TargetChat, chat.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{"-100500"}, got.Addresses)
		assert.Equal(t, chat.ID, got.TargetID)
		assert.Equal(t, chat.DisplayName, got.DisplayName)
	})

	t.Run("contact address is trimmed", func(t *testing.T) {
		got, err := r.Resolve(ctx, TargetRef{TargetContact, contact.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{"ann@example.com"}, got.Addresses)
	})

	t.Run("malformed contact address fails validation", func(t *testing.T) {
		_, err := r.Resolve(ctx, TargetRef{TargetContact, badContact.ID})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.NotErrorIs(t, err, ErrTargetNotFound)

		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageValidation, se.Stage)
	})

	tests := []struct {
		name string
		ref  TargetRef
	}{
		{"missing target", TargetRef{TargetChat, uuid.NewString()}},
		{"inactive target", TargetRef{TargetChat, inactiveChat.ID}},
		{"type mismatch", TargetRef{TargetContact, chat.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.ref)
			assert.ErrorIs(t, err, ErrTargetNotFound)
		})
	}
}

func TestResolver_ResolveGroup(t *testing.T) {
	repo := newMockRepository()
	r := NewResolver(repo, validator.New())
	ctx := context.Background()

	t.Run("dedupes case-insensitively and drops malformed", func(t *testing.T) {
		groupID := repo.addGroup("a@example.com", "broken", "B@example.com", "A@Example.com", " b@example.com")

		got, err := r.Resolve(ctx, TargetRef{TargetGroup, groupID})
		require.NoError(t, err)
		assert.Equal(t, []string{"a@example.com", "B@example.com"}, got.Addresses)
		assert.Equal(t, 1, got.Dropped)
		assert.Equal(t, groupID, got.TargetID)
	})

	t.Run("empty group", func(t *testing.T) {
		groupID := repo.addGroup()
		_, err := r.Resolve(ctx, TargetRef{TargetGroup, groupID})
		assert.ErrorIs(t, err, ErrNoActiveAddresses)
	})

	t.Run("only malformed addresses", func(t *testing.T) {
		groupID := repo.addGroup("x", "y@")
		_, err := r.Resolve(ctx, TargetRef{TargetGroup, groupID})
		assert.ErrorIs(t, err, ErrNoActiveAddresses)
	})

	t.Run("repository error", func(t *testing.T) {
		failing := newMockRepository()
		failing.groupErr = errBoom
		_, err := NewResolver(failing, validator.New()).Resolve(ctx, TargetRef{TargetGroup, uuid.NewString()})
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestNormalizeAddresses(t *testing.T) {
	tests := []struct {
		name        string
		in          []string
		want        []string
		wantDropped int
	}{
		{name: "empty", in: nil, want: []string{}},
		{name: "case variants collapse to first spelling", in: []string{"ann@example.com", "ANN@example.com"}, want: []string{"ann@example.com"}},
		{name: "trims and drops malformed", in: []string{" bob@example.com ", "bob", ""}, want: []string{"bob@example.com"}, wantDropped: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := NormalizeAddresses(validator.New(), tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDropped, dropped)
		})
	}
}
