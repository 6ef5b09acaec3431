// Package sqlite provides a single-node SQLite implementation of the
// notifications and directory repositories.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bissquit/notify-relay/internal/directory"
	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/notifications"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Repository implements notifications.Repository and directory.Repository
// using SQLite.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers and an in-memory database
	// lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != MemoryPath {
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &Repository{db: db, now: time.Now}, nil
}

// DB returns the underlying handle, used for pool metrics.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

type scanner interface {
	Scan(dest ...any) error
}

const targetColumns = `id, type, display_name, address, is_active, created_at`

func scanTarget(row scanner) (*domain.Target, error) {
	var (
		t         domain.Target
		createdAt string
	)
	if err := row.Scan(&t.ID, &t.Type, &t.DisplayName, &t.Address, &t.IsActive, &createdAt); err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.CreatedAt = created
	return &t, nil
}

// CreateTarget creates a new chat target or contact.
func (r *Repository) CreateTarget(ctx context.Context, target *domain.Target) error {
	id := uuid.NewString()
	created := r.now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO targets (id, type, display_name, address, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(target.Type), target.DisplayName, target.Address, target.IsActive, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}

	target.ID = id
	target.CreatedAt = created
	return nil
}

// GetTarget retrieves a target by ID.
func (r *Repository) GetTarget(ctx context.Context, id string) (*domain.Target, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)

	target, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notifications.ErrTargetNotFound
		}
		return nil, fmt.Errorf("get target: %w", err)
	}
	return target, nil
}

// ListTargets retrieves targets matching the filter.
func (r *Repository) ListTargets(ctx context.Context, filter directory.TargetFilter) ([]domain.Target, error) {
	var targetType sql.NullString
	if filter.Type != nil {
		targetType = sql.NullString{String: string(*filter.Type), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets
		 WHERE (? IS NULL OR type = ?) AND (? OR is_active)
		 ORDER BY created_at, id`,
		targetType, targetType, filter.IncludeInactive,
	)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTargets(rows)
}

func collectTargets(rows *sql.Rows) ([]domain.Target, error) {
	targets := make([]domain.Target, 0)
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return targets, nil
}

// SetTargetActive toggles a target.
func (r *Repository) SetTargetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE targets SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("set target active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notifications.ErrTargetNotFound
	}
	return nil
}

// CreateTemplate creates a new template.
func (r *Repository) CreateTemplate(ctx context.Context, template *domain.Template) error {
	id := uuid.NewString()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO templates (id, code, subject, body) VALUES (?, ?, ?, ?)`,
		id, template.Code, template.Subject, template.Body,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return directory.ErrTemplateCodeExists
		}
		return fmt.Errorf("create template: %w", err)
	}

	template.ID = id
	return nil
}

// GetTemplate retrieves a template by ID or, failing that, by code.
func (r *Repository) GetTemplate(ctx context.Context, idOrCode string) (*domain.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, code, subject, body FROM templates
		 WHERE id = ? OR code = ?
		 ORDER BY (id = ?) DESC
		 LIMIT 1`,
		idOrCode, idOrCode, idOrCode,
	)

	var (
		t       domain.Template
		subject sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Code, &subject, &t.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notifications.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	if subject.Valid {
		t.Subject = &subject.String
	}
	return &t, nil
}

// ListTemplates retrieves all templates ordered by code.
func (r *Repository) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, subject, body FROM templates ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	templates := make([]domain.Template, 0)
	for rows.Next() {
		var (
			t       domain.Template
			subject sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Code, &subject, &t.Body); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if subject.Valid {
			s := subject.String
			t.Subject = &s
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// DeleteTemplate deletes a template.
func (r *Repository) DeleteTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notifications.ErrTemplateNotFound
	}
	return nil
}

// CreateGroup creates a new email group.
func (r *Repository) CreateGroup(ctx context.Context, group *domain.EmailGroup) error {
	id := uuid.NewString()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_groups (id, parent_id, name, is_active) VALUES (?, ?, ?, ?)`,
		id, group.ParentID, group.Name, group.IsActive,
	)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}

	group.ID = id
	return nil
}

func scanGroup(row scanner) (*domain.EmailGroup, error) {
	var (
		g        domain.EmailGroup
		parentID sql.NullString
	)
	if err := row.Scan(&g.ID, &parentID, &g.Name, &g.IsActive); err != nil {
		return nil, err
	}
	if parentID.Valid {
		g.ParentID = &parentID.String
	}
	return &g, nil
}

// GetGroup retrieves an email group by ID.
func (r *Repository) GetGroup(ctx context.Context, id string) (*domain.EmailGroup, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, parent_id, name, is_active FROM email_groups WHERE id = ?`, id)

	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, directory.ErrGroupNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// ListGroups retrieves all email groups.
func (r *Repository) ListGroups(ctx context.Context) ([]domain.EmailGroup, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, parent_id, name, is_active FROM email_groups ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	groups := make([]domain.EmailGroup, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// SetGroupActive toggles a group.
func (r *Repository) SetGroupActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE email_groups SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("set group active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return directory.ErrGroupNotFound
	}
	return nil
}

// AddGroupMember adds a contact to a group.
func (r *Repository) AddGroupMember(ctx context.Context, groupID, targetID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_group_members (group_id, target_id) VALUES (?, ?)
		 ON CONFLICT DO NOTHING`,
		groupID, targetID,
	)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember removes a contact from a group.
func (r *Repository) RemoveGroupMember(ctx context.Context, groupID, targetID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM email_group_members WHERE group_id = ? AND target_id = ?`,
		groupID, targetID,
	)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return directory.ErrMemberNotFound
	}
	return nil
}

// ListGroupMembers retrieves the direct members of a group.
func (r *Repository) ListGroupMembers(ctx context.Context, groupID string) ([]domain.Target, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.type, t.display_name, t.address, t.is_active, t.created_at
		 FROM targets t
		 JOIN email_group_members m ON m.target_id = t.id
		 WHERE m.group_id = ?
		 ORDER BY t.created_at, t.id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTargets(rows)
}

// expandGroupQuery walks the active part of the group tree rooted at the
// parameter. UNION rather than UNION ALL stops on cycles.
const expandGroupQuery = `
	WITH RECURSIVE tree(id) AS (
		SELECT id FROM email_groups WHERE id = ? AND is_active
		UNION
		SELECT g.id
		FROM email_groups g
		JOIN tree ON g.parent_id = tree.id
		WHERE g.is_active
	)
	SELECT t.address
	FROM targets t
	JOIN email_group_members m ON m.target_id = t.id
	JOIN tree ON tree.id = m.group_id
	WHERE t.type = 'contact' AND t.is_active
	GROUP BY t.address
	ORDER BY MIN(t.created_at), t.address
`

// ExpandGroupAddresses returns the addresses of active contacts in the group
// and its active descendants.
func (r *Repository) ExpandGroupAddresses(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, expandGroupQuery, groupID)
	if err != nil {
		return nil, fmt.Errorf("expand group: %w", err)
	}
	defer func() { _ = rows.Close() }()

	addresses := make([]string, 0)
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addresses = append(addresses, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expand group: %w", err)
	}
	return addresses, nil
}

// InsertLog stores a queued message log.
func (r *Repository) InsertLog(ctx context.Context, log *domain.MessageLog) error {
	id := uuid.NewString()
	created := r.now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_logs
		 (id, channel, target_id, target_ref, template_id, subject, body, status, error_message, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		string(log.Channel),
		nullString(log.TargetID),
		log.TargetRef,
		nullString(log.TemplateID),
		log.Subject,
		log.Body,
		int(log.Status),
		log.ErrorMessage,
		log.RetryCount,
		formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}

	log.ID = id
	log.CreatedAt = created
	return nil
}

// UpdateLogStatus finalizes a queued log. Final logs are never rewritten.
func (r *Repository) UpdateLogStatus(ctx context.Context, id string, update notifications.LogUpdate) error {
	var sentAt sql.NullString
	if update.SentAt != nil {
		sentAt = sql.NullString{String: formatTime(*update.SentAt), Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE message_logs
		 SET status = ?, error_message = ?, retry_count = ?, sent_at = ?
		 WHERE id = ? AND status = 0`,
		int(update.Status), update.ErrorMessage, update.RetryCount, sentAt, id,
	)
	if err != nil {
		return fmt.Errorf("update log status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM message_logs WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check log: %w", err)
	}
	if !exists {
		return notifications.ErrLogNotFound
	}
	return notifications.ErrLogAlreadyFinal
}

// GetLog retrieves a message log by ID.
func (r *Repository) GetLog(ctx context.Context, id string) (*domain.MessageLog, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, channel, target_id, target_ref, template_id, subject, body,
		        status, error_message, retry_count, created_at, sent_at
		 FROM message_logs WHERE id = ?`,
		id,
	)

	var (
		log          domain.MessageLog
		targetID     sql.NullString
		templateID   sql.NullString
		errorMessage sql.NullString
		status       int
		createdAt    string
		sentAt       sql.NullString
	)
	err := row.Scan(
		&log.ID,
		&log.Channel,
		&targetID,
		&log.TargetRef,
		&templateID,
		&log.Subject,
		&log.Body,
		&status,
		&errorMessage,
		&log.RetryCount,
		&createdAt,
		&sentAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notifications.ErrLogNotFound
		}
		return nil, fmt.Errorf("get log: %w", err)
	}

	log.Status = domain.LogStatus(status)
	log.TargetID = targetID.String
	log.TemplateID = templateID.String
	if errorMessage.Valid {
		log.ErrorMessage = &errorMessage.String
	}
	if log.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sentAt.Valid {
		t, err := parseTime(sentAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse sent_at: %w", err)
		}
		log.SentAt = &t
	}
	return &log, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
