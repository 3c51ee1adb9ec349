package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"jodi.app/internal/auth"
)

var _ auth.AuditStore = (*Store)(nil)

func (s *Store) Append(ctx context.Context, entry *auth.AuditEntry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	metaJSON := []byte("{}")
	if len(entry.Metadata) > 0 {
		bytes, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = bytes
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (id, username, action, target_username, resource,
			status, ip_address, user_agent, metadata, ts)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.Username, entry.Action, nullIfEmpty(entry.TargetUsername),
		nullIfEmpty(entry.Resource), entry.Status, nullIfEmpty(entry.IPAddress),
		nullIfEmpty(entry.UserAgent), metaJSON, entry.OccurredAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

// Query filters audit entries and returns one page ordered newest first,
// with id as tie-break so equal timestamps page deterministically. The
// second return value is the total match count before paging.
func (s *Store) Query(ctx context.Context, filter auth.AuditFilter) ([]auth.AuditEntry, int, error) {
	if s.db == nil {
		return nil, 0, errors.New("database connection unavailable")
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Username != "" {
		add("username = $%d", filter.Username)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.TargetUsername != "" {
		add("target_username = $%d", filter.TargetUsername)
	}
	if filter.Start != nil {
		add("ts >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("ts <= $%d", *filter.End)
	}
	cond := ""
	if len(where) > 0 {
		cond = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, username, action, target_username, resource,
			status, ip_address, user_agent, metadata, ts
		from audit_logs%s
		order by ts desc, id desc
		limit $%d offset $%d
	`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []auth.AuditEntry
	for rows.Next() {
		var (
			e       auth.AuditEntry
			target  sql.NullString
			res     sql.NullString
			ip      sql.NullString
			ua      sql.NullString
			rawMeta []byte
		)
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &target, &res,
			&e.Status, &ip, &ua, &rawMeta, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		e.TargetUsername = target.String
		e.Resource = res.String
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode metadata: %w", err)
			}
		}
		e.OccurredAt = e.OccurredAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
