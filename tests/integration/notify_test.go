//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/bissquit/notify-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_Chat(t *testing.T) {
	client := newTestClient(t)
	chatID := testutil.RandomChatID()

	resp, err := client.POST("/api/v1/notify/chat", map[string]interface{}{
		"chat_id": chatID,
		"subject": "Deploy",
		"body":    "<b>{{Service}}</b> is live",
		"tokens":  map[string]string{"Service": "billing"},
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)

	var sent sendData
	testutil.DecodeData(t, resp, &sent)
	assert.Equal(t, 1, sent.SentCount)
	assert.Equal(t, "<b>billing</b> is live", sent.BodyPreview)

	messages := telegramStub.Messages(chatID)
	require.Len(t, messages, 1)
	assert.Equal(t, botToken, messages[0].Token)
	assert.Equal(t, "HTML", messages[0].ParseMode)
	assert.True(t, strings.HasPrefix(messages[0].Text, "<b>Deploy</b>\n\n"), messages[0].Text)
	assert.Contains(t, messages[0].Text, "<b>billing</b> is live")

	log := getLog(t, client, sent.LogID)
	assert.Equal(t, "telegram", log.Channel)
	assert.Equal(t, "success", log.Status)
	assert.Equal(t, "<b>billing</b> is live", log.Body)
	assert.NotNil(t, log.SentAt)
	assert.Nil(t, log.ErrorMessage)
}

func TestNotify_Chat_StoredTargetAndTemplate(t *testing.T) {
	client := newTestClient(t)
	target := createChatTarget(t, client, "Ops room")
	tpl := createTemplate(t, client, nil, "Hello {{Team}} in {{DisplayName}}")

	resp, err := client.POST("/api/v1/notify/chat", map[string]interface{}{
		"target_id":   target.ID,
		"template_id": tpl.Code,
		"tokens":      map[string]string{"Team": "SRE"},
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)

	var sent sendData
	testutil.DecodeData(t, resp, &sent)

	messages := telegramStub.Messages(target.Address)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Text, "Hello SRE")

	log := getLog(t, client, sent.LogID)
	assert.Equal(t, target.ID, log.TargetID)
	assert.Equal(t, tpl.ID, log.TemplateID)
}

func TestNotify_Chat_LongMessageIsChunked(t *testing.T) {
	client := newTestClient(t)
	chatID := testutil.RandomChatID()
	body := strings.Repeat("line of text\n", 700)

	resp, err := client.POST("/api/v1/notify/chat", map[string]interface{}{
		"chat_id": chatID,
		"body":    body,
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	messages := telegramStub.Messages(chatID)
	require.Greater(t, len(messages), 1)

	var joined strings.Builder
	for _, m := range messages {
		assert.LessOrEqual(t, len(m.Text), 4096)
		joined.WriteString(m.Text)
	}
	assert.Equal(t, body, joined.String())
}

func TestNotify_Chat_DeliveryFailure(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		wantRetries int
	}{
		{name: "permanent rejection", code: http.StatusForbidden, wantRetries: 0},
		{name: "rate limited", code: http.StatusTooManyRequests, wantRetries: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)
			chatID := testutil.RandomChatID()
			telegramStub.FailChat(chatID, tt.code)

			resp, err := client.POST("/api/v1/notify/chat", map[string]interface{}{
				"chat_id": chatID,
				"body":    "will bounce",
			})
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadGateway, resp.StatusCode)

			var failure sendFailure
			testutil.DecodeJSON(t, resp, &failure)
			assert.Equal(t, "HttpSend", failure.Error.Stage)
			require.NotNil(t, failure.Error.HTTPStatus)
			assert.Equal(t, tt.code, *failure.Error.HTTPStatus)
			require.NotEmpty(t, failure.Error.LogID)

			log := getLog(t, client, failure.Error.LogID)
			assert.Equal(t, "failed", log.Status)
			assert.Equal(t, tt.wantRetries, log.RetryCount)
			require.NotNil(t, log.ErrorMessage)
			assert.Nil(t, log.SentAt)
		})
	}
}

func TestNotify_ValidationFailure(t *testing.T) {
	client := newTestClient(t).WithoutValidation()

	tests := []struct {
		name string
		path string
		body map[string]interface{}
	}{
		{name: "chat without target", path: "/api/v1/notify/chat", body: map[string]interface{}{"body": "x"}},
		{name: "malformed chat id", path: "/api/v1/notify/chat", body: map[string]interface{}{"chat_id": "not a chat", "body": "x"}},
		{name: "email without body or template", path: "/api/v1/notify/email", body: map[string]interface{}{"email": testutil.RandomEmail("v")}},
		{name: "group id not uuid", path: "/api/v1/notify/group-email", body: map[string]interface{}{"group_id": "g1", "body": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.POST(tt.path, tt.body)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestNotify_UnknownTargets(t *testing.T) {
	client := newTestClient(t).WithoutValidation()
	missing := "00000000-0000-0000-0000-000000000001"

	tests := []struct {
		name string
		path string
		body map[string]interface{}
	}{
		{name: "chat target", path: "/api/v1/notify/chat", body: map[string]interface{}{"target_id": missing, "body": "x"}},
		{name: "contact", path: "/api/v1/notify/email", body: map[string]interface{}{"contact_id": missing, "body": "x"}},
		{name: "group", path: "/api/v1/notify/group-email", body: map[string]interface{}{"group_id": missing, "body": "x"}},
		{name: "template", path: "/api/v1/notify/email", body: map[string]interface{}{"email": testutil.RandomEmail("t"), "template_id": "no-such-template"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.POST(tt.path, tt.body)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

			var failure sendFailure
			testutil.DecodeJSON(t, resp, &failure)
			assert.Contains(t, []string{"TargetLookup", "TemplateLookup"}, failure.Error.Stage)
			assert.Empty(t, failure.Error.LogID)
		})
	}
}

func TestNotify_Email(t *testing.T) {
	client := newTestClient(t)
	recipient := testutil.RandomEmail("direct")

	resp, err := client.POST("/api/v1/notify/email", map[string]interface{}{
		"email":   recipient,
		"subject": "Invoice {{Number}}",
		"body":    "<p>Total: {{Total|N2}}</p>",
		"tokens":  map[string]string{"Number": "42", "Total": "1234.5"},
		"locale":  "en",
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)

	var sent sendData
	testutil.DecodeData(t, resp, &sent)
	assert.Equal(t, "Invoice 42", sent.Subject)

	msg := waitForEmail(t, recipient)
	assert.Equal(t, "Invoice 42", msg.Subject)
	assert.Equal(t, fromAddress, msg.From.Address)
	assert.Contains(t, msg.HTML, "Total: 1,234.50")

	log := getLog(t, client, sent.LogID)
	assert.Equal(t, "email", log.Channel)
	assert.Equal(t, "success", log.Status)
	assert.Equal(t, "address:"+recipient, log.TargetRef)
}

func TestNotify_Email_StoredContact(t *testing.T) {
	client := newTestClient(t)
	contact := createContact(t, client, "Ann Smith")
	tpl := createTemplate(t, client, strPtr("Welcome {{DisplayName}}"), "<p>Hi {{DisplayName}}</p>")

	resp, err := client.POST("/api/v1/notify/email", map[string]interface{}{
		"contact_id":  contact.ID,
		"template_id": tpl.ID,
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	msg := waitForEmail(t, contact.Address)
	assert.Equal(t, "Welcome Ann Smith", msg.Subject)
	assert.Contains(t, msg.HTML, "Hi Ann Smith")
}

func TestNotify_Email_InactiveContact(t *testing.T) {
	client := newTestClient(t).WithoutValidation()
	contact := createContact(t, client, "Gone")
	setTargetActive(t, client, contact.ID, false)

	resp, err := client.POST("/api/v1/notify/email", map[string]interface{}{
		"contact_id": contact.ID,
		"body":       "x",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestNotify_GroupEmail(t *testing.T) {
	client := newTestClient(t)

	parent := createGroup(t, client, "Engineering", nil)
	child := createGroup(t, client, "Backend", &parent.ID)
	archived := createGroup(t, client, "Archived", &parent.ID)

	direct := createContact(t, client, "Direct")
	nested := createContact(t, client, "Nested")
	inactive := createContact(t, client, "Inactive")
	hidden := createContact(t, client, "Hidden")

	addMember(t, client, parent.ID, direct.ID)
	addMember(t, client, parent.ID, inactive.ID)
	addMember(t, client, child.ID, nested.ID)
	addMember(t, client, child.ID, direct.ID)
	addMember(t, client, archived.ID, hidden.ID)

	setTargetActive(t, client, inactive.ID, false)
	setGroupActive(t, client, archived.ID, false)

	resp, err := client.GET("/api/v1/admin/groups/" + parent.ID + "/recipients")
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)
	var recipients []string
	testutil.DecodeData(t, resp, &recipients)
	assert.ElementsMatch(t, []string{direct.Address, nested.Address}, recipients)

	resp, err = client.POST("/api/v1/notify/group-email", map[string]interface{}{
		"group_id": parent.ID,
		"subject":  "Team update",
		"body":     "<p>Standup moved</p>",
	})
	require.NoError(t, err)
	requireStatus(t, resp, http.StatusOK)

	var sent sendData
	testutil.DecodeData(t, resp, &sent)
	assert.Equal(t, 2, sent.SentCount)
	assert.Equal(t, 0, sent.FailedCount)

	for _, addr := range []string{direct.Address, nested.Address} {
		msg := waitForEmail(t, addr)
		assert.Equal(t, "Team update", msg.Subject)
		assert.Equal(t, []string{addr}, msg.Recipients())
	}

	for _, addr := range []string{inactive.Address, hidden.Address} {
		messages, err := mailpitClient.SearchByRecipient(addr)
		require.NoError(t, err)
		assert.Empty(t, messages, addr)
	}

	log := getLog(t, client, sent.LogID)
	assert.Equal(t, "success", log.Status)
	assert.Equal(t, parent.ID, log.TargetID)
}

func TestNotify_GroupEmail_NoRecipients(t *testing.T) {
	client := newTestClient(t).WithoutValidation()
	group := createGroup(t, client, "Empty", nil)

	resp, err := client.POST("/api/v1/notify/group-email", map[string]interface{}{
		"group_id": group.ID,
		"body":     "nobody home",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var failure sendFailure
	testutil.DecodeJSON(t, resp, &failure)
	assert.Equal(t, "TargetLookup", failure.Error.Stage)
}

func TestNotify_GetLog_NotFound(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.GET("/api/v1/notify/logs/00000000-0000-0000-0000-000000000002")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
