//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/notify-relay/internal/testutil"
	"github.com/stretchr/testify/require"
)

type targetData struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
	IsActive    bool   `json:"is_active"`
}

type templateData struct {
	ID      string  `json:"id"`
	Code    string  `json:"code"`
	Subject *string `json:"subject"`
	Body    string  `json:"body"`
}

type groupData struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
	Name     string  `json:"name"`
	IsActive bool    `json:"is_active"`
}

type sendData struct {
	Message     string `json:"message"`
	LogID       string `json:"log_id"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"body_preview"`
	SentCount   int    `json:"sent_count"`
	FailedCount int    `json:"failed_count"`
	RetryCount  int    `json:"retry_count"`
}

type sendFailure struct {
	Error struct {
		Message    string `json:"message"`
		Stage      string `json:"stage"`
		LogID      string `json:"log_id"`
		HTTPStatus *int   `json:"http_status"`
		SentCount  int    `json:"sent_count"`
	} `json:"error"`
}

type logData struct {
	ID           string  `json:"id"`
	Channel      string  `json:"channel"`
	TargetID     string  `json:"target_id"`
	TargetRef    string  `json:"target_ref"`
	TemplateID   string  `json:"template_id"`
	Subject      string  `json:"subject"`
	Body         string  `json:"body"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message"`
	RetryCount   int     `json:"retry_count"`
	SentAt       *string `json:"sent_at"`
}

func createTarget(t *testing.T, client *testutil.Client, typ, address, name string) targetData {
	t.Helper()

	resp, err := client.POST("/api/v1/admin/targets", map[string]interface{}{
		"type":         typ,
		"address":      address,
		"display_name": name,
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusCreated)

	var target targetData
	testutil.DecodeData(t, resp, &target)
	return target
}

// createContact creates an email contact with a random address.
func createContact(t *testing.T, client *testutil.Client, name string) targetData {
	t.Helper()
	return createTarget(t, client, "contact", testutil.RandomEmail("contact"), name)
}

func createChatTarget(t *testing.T, client *testutil.Client, name string) targetData {
	t.Helper()
	return createTarget(t, client, "chat", testutil.RandomChatID(), name)
}

func setTargetActive(t *testing.T, client *testutil.Client, id string, active bool) {
	t.Helper()

	action := "deactivate"
	if active {
		action = "activate"
	}
	resp, err := client.POST("/api/v1/admin/targets/"+id+"/"+action, nil)
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func createTemplate(t *testing.T, client *testutil.Client, subject *string, body string) templateData {
	t.Helper()

	payload := map[string]interface{}{
		"code": testutil.RandomCode("tpl"),
		"body": body,
	}
	if subject != nil {
		payload["subject"] = *subject
	}

	resp, err := client.POST("/api/v1/admin/templates", payload)
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusCreated)

	var template templateData
	testutil.DecodeData(t, resp, &template)
	return template
}

func createGroup(t *testing.T, client *testutil.Client, name string, parentID *string) groupData {
	t.Helper()

	payload := map[string]interface{}{"name": name}
	if parentID != nil {
		payload["parent_id"] = *parentID
	}

	resp, err := client.POST("/api/v1/admin/groups", payload)
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusCreated)

	var group groupData
	testutil.DecodeData(t, resp, &group)
	return group
}

func addMember(t *testing.T, client *testutil.Client, groupID, targetID string) {
	t.Helper()

	resp, err := client.PUT("/api/v1/admin/groups/"+groupID+"/members/"+targetID, nil)
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func setGroupActive(t *testing.T, client *testutil.Client, id string, active bool) {
	t.Helper()

	action := "deactivate"
	if active {
		action = "activate"
	}
	resp, err := client.POST("/api/v1/admin/groups/"+id+"/"+action, nil)
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func getLog(t *testing.T, client *testutil.Client, id string) logData {
	t.Helper()

	resp, err := client.GET("/api/v1/notify/logs/" + id)
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)

	var log logData
	testutil.DecodeData(t, resp, &log)
	return log
}

// waitForEmail polls Mailpit until a message for the recipient arrives.
func waitForEmail(t *testing.T, recipient string) *MailpitMessage {
	t.Helper()

	var found []MailpitMessage
	require.Eventually(t, func() bool {
		messages, err := mailpitClient.SearchByRecipient(recipient)
		if err != nil {
			return false
		}
		found = messages
		return len(found) > 0
	}, 10*time.Second, 100*time.Millisecond, "no email for %s", recipient)

	msg, err := mailpitClient.GetMessageByID(found[0].ID)
	require.NoError(t, err)
	return msg
}

// requireStatus fails the test with the response body when the status
// does not match.
func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, testutil.ReadBody(t, resp))
	}
}

func strPtr(s string) *string {
	return &s
}
