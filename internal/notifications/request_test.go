package notifications

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestValidChatID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"12345", true},
		{"-1001234567890", true},
		{"@alerts_channel", true},
		{"@abcd", false},
		{"@1abcde", false},
		{"abc", false},
		{"", false},
		{"12 34", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidChatID(tt.id))
		})
	}
}

func TestValidateRequest(t *testing.T) {
	v := validator.New()
	uuid := "6f1c1a52-2b4b-4c1e-9d0e-1b9a3f0e5a11"

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "chat by id",
			req:  Request{Kind: KindChat, Target: TargetRef{TargetChatID, "12345"}, Body: "hi"},
		},
		{
			name: "chat by stored target",
			req:  Request{Kind: KindChat, Target: TargetRef{TargetChat, uuid}, Body: "hi"},
		},
		{
			name: "email by address",
			req:  Request{Kind: KindEmail, Target: TargetRef{TargetAddress, "ann@example.com"}, Subject: "s", Body: "b"},
		},
		{
			name: "email with template only",
			req:  Request{Kind: KindEmail, Target: TargetRef{TargetContact, uuid}, TemplateID: "welcome"},
		},
		{
			name: "group email",
			req:  Request{Kind: KindGroupEmail, Target: TargetRef{TargetGroup, uuid}, Subject: "s", Body: "b"},
		},
		{
			name:    "unknown kind",
			req:     Request{Kind: "fax", Target: TargetRef{TargetChatID, "12345"}, Body: "hi"},
			wantErr: true,
		},
		{
			name:    "missing target",
			req:     Request{Kind: KindChat, Target: TargetRef{TargetChatID, ""}, Body: "hi"},
			wantErr: true,
		},
		{
			name:    "target kind not allowed for variant",
			req:     Request{Kind: KindEmail, Target: TargetRef{TargetChatID, "12345"}, Subject: "s", Body: "b"},
			wantErr: true,
		},
		{
			name:    "malformed chat id",
			req:     Request{Kind: KindChat, Target: TargetRef{TargetChatID, "not-a-chat"}, Body: "hi"},
			wantErr: true,
		},
		{
			name:    "malformed email",
			req:     Request{Kind: KindEmail, Target: TargetRef{TargetAddress, "ann@"}, Subject: "s", Body: "b"},
			wantErr: true,
		},
		{
			name:    "stored target id is not a uuid",
			req:     Request{Kind: KindGroupEmail, Target: TargetRef{TargetGroup, "42"}, Subject: "s", Body: "b"},
			wantErr: true,
		},
		{
			name:    "no body and no template",
			req:     Request{Kind: KindChat, Target: TargetRef{TargetChatID, "12345"}, Body: "   "},
			wantErr: true,
		},
		{
			name:    "email without subject",
			req:     Request{Kind: KindEmail, Target: TargetRef{TargetAddress, "ann@example.com"}, Body: "b"},
			wantErr: true,
		},
		{
			name:    "invalid token key",
			req:     Request{Kind: KindChat, Target: TargetRef{TargetChatID, "12345"}, Body: "hi", Tokens: map[string]*string{"a|b": strPtr("x")}},
			wantErr: true,
		},
		{
			name:    "invalid locale",
			req:     Request{Kind: KindChat, Target: TargetRef{TargetChatID, "12345"}, Body: "hi", Locale: "not a locale"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(v, tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRequestKind_Channel(t *testing.T) {
	assert.Equal(t, "telegram", string(KindChat.Channel()))
	assert.Equal(t, "email", string(KindEmail.Channel()))
	assert.Equal(t, "email", string(KindGroupEmail.Channel()))
}
