package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DecodeHelpers(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/data":
			_, _ = w.Write([]byte(`{"data":{"id":"t1","is_active":true}}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","stage":"HttpSend"}}`))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL).WithToken("secret-token")

	t.Run("data envelope", func(t *testing.T) {
		resp, err := client.GET("/data")
		require.NoError(t, err)

		var target struct {
			ID       string `json:"id"`
			IsActive bool   `json:"is_active"`
		}
		DecodeData(t, resp, &target)
		assert.Equal(t, "t1", target.ID)
		assert.True(t, target.IsActive)
		assert.Equal(t, "Bearer secret-token", gotAuth)
	})

	t.Run("raw body", func(t *testing.T) {
		resp, err := client.POST("/fail", map[string]string{"body": "x"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

		var failure struct {
			Error struct {
				Message string `json:"message"`
				Stage   string `json:"stage"`
			} `json:"error"`
		}
		DecodeJSON(t, resp, &failure)
		assert.Equal(t, "boom", failure.Error.Message)
		assert.Equal(t, "HttpSend", failure.Error.Stage)
	})
}
