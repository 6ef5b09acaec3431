package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// TelegramMessage is one sendMessage call received by TelegramStub.
type TelegramMessage struct {
	Token     string
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// TelegramStub is a fake Bot API serving POST /bot<token>/sendMessage.
// Set it as the sender's API URL.
type TelegramStub struct {
	*httptest.Server

	mu       sync.Mutex
	messages []TelegramMessage
	// failures maps a chat id to the status code returned for it.
	failures map[string]int
}

// NewTelegramStub starts a stub server.
func NewTelegramStub() *TelegramStub {
	s := &TelegramStub{failures: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *TelegramStub) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/bot")
	token, method, ok := strings.Cut(path, "/")
	if r.Method != http.MethodPost || !ok || method != "sendMessage" {
		writeTelegram(w, http.StatusNotFound, "Not Found", 0)
		return
	}

	var msg TelegramMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeTelegram(w, http.StatusBadRequest, "Bad Request: can't parse JSON", 0)
		return
	}
	msg.Token = token

	s.mu.Lock()
	code, fail := s.failures[msg.ChatID]
	if !fail {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	switch {
	case !fail:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	case code == http.StatusTooManyRequests:
		writeTelegram(w, code, "Too Many Requests: retry after 1", 1)
	default:
		writeTelegram(w, code, http.StatusText(code), 0)
	}
}

func writeTelegram(w http.ResponseWriter, code int, description string, retryAfter int) {
	resp := map[string]interface{}{
		"ok":          false,
		"error_code":  code,
		"description": description,
	}
	if retryAfter > 0 {
		resp["parameters"] = map[string]int{"retry_after": retryAfter}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// FailChat makes every message to chatID fail with status code.
func (s *TelegramStub) FailChat(chatID string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[chatID] = code
}

// Messages returns the messages delivered to chatID.
func (s *TelegramStub) Messages(chatID string) []TelegramMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TelegramMessage
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// RandomChatID returns a numeric chat id unlikely to collide between tests.
func RandomChatID() string {
	return "-100" + randomDigits(10)
}
