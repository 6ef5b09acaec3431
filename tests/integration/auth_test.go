//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/notify-relay/internal/auth"
	"github.com/bissquit/notify-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_Credentials(t *testing.T) {
	expired, err := auth.NewAuthenticator(auth.Config{JWTSecret: jwtSecret, Issuer: jwtIssuer}).
		IssueToken("expired", -time.Minute)
	require.NoError(t, err)

	foreign, err := auth.NewAuthenticator(auth.Config{JWTSecret: "another-secret", Issuer: jwtIssuer}).
		IssueToken("intruder", time.Hour)
	require.NoError(t, err)

	otherIssuer, err := auth.NewAuthenticator(auth.Config{JWTSecret: jwtSecret, Issuer: "someone-else"}).
		IssueToken("intruder", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "no credentials", token: "", wantStatus: http.StatusUnauthorized},
		{name: "issued jwt", token: testToken, wantStatus: http.StatusOK},
		{name: "static api key", token: apiKey, wantStatus: http.StatusOK},
		{name: "unknown api key", token: "integration-unknown-api-key", wantStatus: http.StatusUnauthorized},
		{name: "expired jwt", token: expired, wantStatus: http.StatusUnauthorized},
		{name: "jwt signed with other secret", token: foreign, wantStatus: http.StatusUnauthorized},
		{name: "jwt from other issuer", token: otherIssuer, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClientWithoutValidation()
			if tt.token != "" {
				client = client.WithToken(tt.token)
			}

			resp, err := client.GET("/api/v1/admin/templates")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAuth_UnauthorizedSendIsNotLogged(t *testing.T) {
	chatID := testutil.RandomChatID()
	client := newTestClientWithoutValidation()

	resp, err := client.POST("/api/v1/notify/chat", map[string]interface{}{
		"chat_id": chatID,
		"body":    "should never arrive",
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, telegramStub.Messages(chatID))
}

func TestSystemEndpoints(t *testing.T) {
	client := newTestClientWithoutValidation()

	for _, path := range []string{"/healthz", "/readyz", "/version", "/api/openapi.yaml", "/docs"} {
		t.Run(path, func(t *testing.T) {
			resp, err := client.GET(path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}
