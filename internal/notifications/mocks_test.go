package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/google/uuid"
)

// mockRepository is an in-memory Repository.
type mockRepository struct {
	mu        sync.Mutex
	targets   map[string]*domain.Target
	templates map[string]*domain.Template
	groups    map[string][]string
	logs      map[string]*domain.MessageLog

	insertErr error
	updateErr error
	groupErr  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		targets:   make(map[string]*domain.Target),
		templates: make(map[string]*domain.Template),
		groups:    make(map[string][]string),
		logs:      make(map[string]*domain.MessageLog),
	}
}

func (m *mockRepository) addTarget(typ domain.TargetType, address string, active bool) *domain.Target {
	t := &domain.Target{
		ID:          uuid.NewString(),
		Type:        typ,
		DisplayName: "Target " + address,
		Address:     address,
		IsActive:    active,
		CreatedAt:   time.Now(),
	}
	m.targets[t.ID] = t
	return t
}

func (m *mockRepository) addTemplate(code string, subject *string, body string) *domain.Template {
	t := &domain.Template{ID: uuid.NewString(), Code: code, Subject: subject, Body: body}
	m.templates[t.ID] = t
	return t
}

func (m *mockRepository) addGroup(addresses ...string) string {
	id := uuid.NewString()
	m.groups[id] = addresses
	return id
}

func (m *mockRepository) GetTarget(_ context.Context, id string) (*domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, ErrTargetNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepository) ExpandGroupAddresses(_ context.Context, groupID string) ([]string, error) {
	if m.groupErr != nil {
		return nil, m.groupErr
	}
	return m.groups[groupID], nil
}

func (m *mockRepository) GetTemplate(_ context.Context, idOrCode string) (*domain.Template, error) {
	if t, ok := m.templates[idOrCode]; ok {
		return t, nil
	}
	for _, t := range m.templates {
		if t.Code == idOrCode {
			return t, nil
		}
	}
	return nil, ErrTemplateNotFound
}

func (m *mockRepository) InsertLog(_ context.Context, log *domain.MessageLog) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = uuid.NewString()
	log.CreatedAt = time.Now()
	cp := *log
	m.logs[log.ID] = &cp
	return nil
}

func (m *mockRepository) UpdateLogStatus(_ context.Context, id string, update LogUpdate) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return ErrLogNotFound
	}
	if log.Status.IsFinal() {
		return ErrLogAlreadyFinal
	}
	log.Status = update.Status
	log.ErrorMessage = update.ErrorMessage
	log.RetryCount = update.RetryCount
	log.SentAt = update.SentAt
	return nil
}

func (m *mockRepository) GetLog(_ context.Context, id string) (*domain.MessageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return nil, ErrLogNotFound
	}
	cp := *log
	return &cp, nil
}

func (m *mockRepository) Ping(_ context.Context) error {
	return nil
}

func (m *mockRepository) logCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

// sentMessage is one call recorded by mockTransport.
type sentMessage struct {
	Channel      domain.ChannelType
	Notification Notification
}

// mockTransport records deliveries. sendFn, when set, decides the outcome
// of each call.
type mockTransport struct {
	mu     sync.Mutex
	sent   []sentMessage
	calls  int
	sendFn func(ctx context.Context, call int, n Notification) error
}

func (m *mockTransport) Send(ctx context.Context, channel domain.ChannelType, n Notification) error {
	m.mu.Lock()
	m.calls++
	call := m.calls
	fn := m.sendFn
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, call, n); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.sent = append(m.sent, sentMessage{Channel: channel, Notification: n})
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// statusError is a transport error carrying a response code.
type statusError struct {
	code      int
	retryable bool
	after     time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d", e.code)
}

func (e *statusError) IsRetryable() bool { return e.retryable }

func (e *statusError) StatusCode() int { return e.code }

func (e *statusError) RetryDelay() time.Duration { return e.after }

var errBoom = errors.New("boom")

func strPtr(s string) *string {
	return &s
}

func noSleep(_ context.Context, _ time.Duration) error {
	return nil
}
