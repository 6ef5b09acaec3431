// Package postgres provides PostgreSQL implementation of the notifications
// and directory repositories.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/notify-relay/internal/directory"
	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/notifications"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.Repository and directory.Repository
// using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

const targetColumns = `id, type, display_name, address, is_active, created_at`

func scanTarget(row pgx.Row) (*domain.Target, error) {
	var t domain.Target
	err := row.Scan(&t.ID, &t.Type, &t.DisplayName, &t.Address, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTarget creates a new chat target or contact.
func (r *Repository) CreateTarget(ctx context.Context, target *domain.Target) error {
	query := `
		INSERT INTO targets (type, display_name, address, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		target.Type,
		target.DisplayName,
		target.Address,
		target.IsActive,
	).Scan(&target.ID, &target.CreatedAt)
}

// GetTarget retrieves a target by ID.
func (r *Repository) GetTarget(ctx context.Context, id string) (*domain.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE id = $1`

	target, err := scanTarget(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrTargetNotFound
		}
		return nil, fmt.Errorf("get target: %w", err)
	}
	return target, nil
}

// ListTargets retrieves targets matching the filter.
func (r *Repository) ListTargets(ctx context.Context, filter directory.TargetFilter) ([]domain.Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE ($1::text IS NULL OR type = $1)
		  AND ($2 OR is_active)
		ORDER BY created_at, id
	`
	var targetType *string
	if filter.Type != nil {
		s := string(*filter.Type)
		targetType = &s
	}

	rows, err := r.db.Query(ctx, query, targetType, filter.IncludeInactive)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	return collectTargets(rows)
}

func collectTargets(rows pgx.Rows) ([]domain.Target, error) {
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
	result, err := r.db.Exec(ctx, `UPDATE targets SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set target active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrTargetNotFound
	}
	return nil
}

// CreateTemplate creates a new template.
func (r *Repository) CreateTemplate(ctx context.Context, template *domain.Template) error {
	query := `
		INSERT INTO templates (code, subject, body)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query, template.Code, template.Subject, template.Body).Scan(&template.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return directory.ErrTemplateCodeExists
		}
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID or, failing that, by code.
func (r *Repository) GetTemplate(ctx context.Context, idOrCode string) (*domain.Template, error) {
	var (
		query string
		args  []any
	)
	if _, err := uuid.Parse(idOrCode); err == nil {
		query = `
			SELECT id, code, subject, body FROM templates
			WHERE id = $1::uuid OR code = $2
			ORDER BY (id = $1::uuid) DESC
			LIMIT 1
		`
		args = []any{idOrCode, idOrCode}
	} else {
		query = `SELECT id, code, subject, body FROM templates WHERE code = $1`
		args = []any{idOrCode}
	}

	var t domain.Template
	err := r.db.QueryRow(ctx, query, args...).Scan(&t.ID, &t.Code, &t.Subject, &t.Body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// ListTemplates retrieves all templates ordered by code.
func (r *Repository) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, subject, body FROM templates ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]domain.Template, 0)
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.ID, &t.Code, &t.Subject, &t.Body); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// DeleteTemplate deletes a template.
func (r *Repository) DeleteTemplate(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrTemplateNotFound
	}
	return nil
}

// CreateGroup creates a new email group.
func (r *Repository) CreateGroup(ctx context.Context, group *domain.EmailGroup) error {
	query := `
		INSERT INTO email_groups (parent_id, name, is_active)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	return r.db.QueryRow(ctx, query, group.ParentID, group.Name, group.IsActive).Scan(&group.ID)
}

// GetGroup retrieves an email group by ID.
func (r *Repository) GetGroup(ctx context.Context, id string) (*domain.EmailGroup, error) {
	query := `SELECT id, parent_id, name, is_active FROM email_groups WHERE id = $1`

	var g domain.EmailGroup
	err := r.db.QueryRow(ctx, query, id).Scan(&g.ID, &g.ParentID, &g.Name, &g.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, directory.ErrGroupNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

// ListGroups retrieves all email groups.
func (r *Repository) ListGroups(ctx context.Context) ([]domain.EmailGroup, error) {
	rows, err := r.db.Query(ctx, `SELECT id, parent_id, name, is_active FROM email_groups ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]domain.EmailGroup, 0)
	for rows.Next() {
		var g domain.EmailGroup
		if err := rows.Scan(&g.ID, &g.ParentID, &g.Name, &g.IsActive); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SetGroupActive toggles a group.
func (r *Repository) SetGroupActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.Exec(ctx, `UPDATE email_groups SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set group active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return directory.ErrGroupNotFound
	}
	return nil
}

// AddGroupMember adds a contact to a group.
func (r *Repository) AddGroupMember(ctx context.Context, groupID, targetID string) error {
	query := `
		INSERT INTO email_group_members (group_id, target_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, groupID, targetID); err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember removes a contact from a group.
func (r *Repository) RemoveGroupMember(ctx context.Context, groupID, targetID string) error {
	result, err := r.db.Exec(ctx,
		`DELETE FROM email_group_members WHERE group_id = $1 AND target_id = $2`,
		groupID, targetID,
	)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return directory.ErrMemberNotFound
	}
	return nil
}

// ListGroupMembers retrieves the direct members of a group.
func (r *Repository) ListGroupMembers(ctx context.Context, groupID string) ([]domain.Target, error) {
	query := `
		SELECT t.id, t.type, t.display_name, t.address, t.is_active, t.created_at
		FROM targets t
		JOIN email_group_members m ON m.target_id = t.id
		WHERE m.group_id = $1
		ORDER BY t.created_at, t.id
	`
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	return collectTargets(rows)
}

// expandGroupQuery walks the active part of the group tree rooted at $1.
// UNION rather than UNION ALL stops on cycles.
const expandGroupQuery = `
	WITH RECURSIVE tree AS (
		SELECT id FROM email_groups WHERE id = $1 AND is_active
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
	rows, err := r.db.Query(ctx, expandGroupQuery, groupID)
	if err != nil {
		return nil, fmt.Errorf("expand group: %w", err)
	}
	defer rows.Close()

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
	log.ID = uuid.NewString()

	query := `
		INSERT INTO message_logs (id, channel, target_id, target_ref, template_id, subject, body, status, error_message, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		log.ID,
		log.Channel,
		nullable(log.TargetID),
		log.TargetRef,
		nullable(log.TemplateID),
		log.Subject,
		log.Body,
		int16(log.Status),
		log.ErrorMessage,
		log.RetryCount,
	).Scan(&log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// UpdateLogStatus finalizes a queued log. Final logs are never rewritten.
func (r *Repository) UpdateLogStatus(ctx context.Context, id string, update notifications.LogUpdate) error {
	query := `
		UPDATE message_logs
		SET status = $2, error_message = $3, retry_count = $4, sent_at = $5
		WHERE id = $1 AND status = 0
	`
	result, err := r.db.Exec(ctx, query,
		id,
		int16(update.Status),
		update.ErrorMessage,
		update.RetryCount,
		update.SentAt,
	)
	if err != nil {
		return fmt.Errorf("update log status: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM message_logs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check log: %w", err)
	}
	if !exists {
		return notifications.ErrLogNotFound
	}
	return notifications.ErrLogAlreadyFinal
}

// GetLog retrieves a message log by ID.
func (r *Repository) GetLog(ctx context.Context, id string) (*domain.MessageLog, error) {
	query := `
		SELECT id, channel, target_id, target_ref, template_id, subject, body,
		       status, error_message, retry_count, created_at, sent_at
		FROM message_logs
		WHERE id = $1
	`
	var (
		log        domain.MessageLog
		targetID   *string
		templateID *string
		status     int16
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&log.ID,
		&log.Channel,
		&targetID,
		&log.TargetRef,
		&templateID,
		&log.Subject,
		&log.Body,
		&status,
		&log.ErrorMessage,
		&log.RetryCount,
		&log.CreatedAt,
		&log.SentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrLogNotFound
		}
		return nil, fmt.Errorf("get log: %w", err)
	}

	log.Status = domain.LogStatus(status)
	if targetID != nil {
		log.TargetID = *targetID
	}
	if templateID != nil {
		log.TemplateID = *templateID
	}
	return &log, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation reports a unique_violation (23505) from PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
