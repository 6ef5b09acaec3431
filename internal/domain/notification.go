// Package domain contains the persistent entities of the notification relay.
package domain

import "time"

// ChannelType identifies a delivery transport.
type ChannelType string

// Supported channel types.
const (
	ChannelTypeTelegram ChannelType = "telegram"
	ChannelTypeEmail    ChannelType = "email"
)

// TargetType identifies what a stored target points at.
type TargetType string

// Stored target types.
const (
	TargetTypeChat    TargetType = "chat"
	TargetTypeContact TargetType = "contact"
)

// Target is a stored chat destination or email contact.
type Target struct {
	ID          string
	Type        TargetType
	DisplayName string
	// Address is a chat id for chat targets and an email address for contacts.
	Address   string
	IsActive  bool
	CreatedAt time.Time
}

// Template is a reusable message template addressed by id or code.
type Template struct {
	ID      string
	Code    string
	Subject *string
	Body    string
}

// EmailGroup is a node of the group hierarchy. Contacts belong to groups and
// a group's recipients include those of all active descendants.
type EmailGroup struct {
	ID       string
	ParentID *string
	Name     string
	IsActive bool
}

// LogStatus is the lifecycle state of a message log.
type LogStatus int

// Log statuses. Values are persisted.
const (
	LogStatusQueued  LogStatus = 0
	LogStatusSuccess LogStatus = 1
	LogStatusFailed  LogStatus = 2
)

func (s LogStatus) String() string {
	switch s {
	case LogStatusQueued:
		return "queued"
	case LogStatusSuccess:
		return "success"
	case LogStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsFinal reports whether no further transition is allowed.
func (s LogStatus) IsFinal() bool {
	return s == LogStatusSuccess || s == LogStatusFailed
}

// MessageLog records one dispatch. A log is written Queued before any
// delivery attempt and moves to Success or Failed exactly once.
type MessageLog struct {
	ID           string
	Channel      ChannelType
	TargetID     string
	TargetRef    string
	TemplateID   string
	Subject      string
	Body         string
	Status       LogStatus
	ErrorMessage *string
	RetryCount   int
	CreatedAt    time.Time
	SentAt       *time.Time
}
