package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"netcrew.io/internal/audit"
)

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	var metadata, changes []byte
	var err error
	if len(e.Metadata) > 0 {
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	if e.Changes != nil {
		if changes, err = json.Marshal(e.Changes); err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_logs (id, action, severity, actor_id, actor_email, resource_type, resource_id,
			resource_name, metadata, changes, success, ip, user_agent, request_id, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ID, string(e.Action), string(e.Severity), nullIfEmpty(e.ActorID), nullIfEmpty(e.ActorEmail),
		nullIfEmpty(e.ResourceType), nullIfEmpty(e.ResourceID), nullIfEmpty(e.ResourceName),
		metadata, changes, e.Success, nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), nullIfEmpty(e.RequestID),
		e.OccurredAt)
	return err
}

// auditWhere builds the shared predicate of the list and count queries.
func auditWhere(f audit.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if f.Since != nil {
		add("occurred_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("occurred_at <= $%d", *f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " where " + strings.Join(clauses, " and "), args
}

func (s *Store) ListAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	where, args := auditWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		select id, action, severity, coalesce(actor_id, ''), coalesce(actor_email, ''), coalesce(resource_type, ''),
			coalesce(resource_id, ''), coalesce(resource_name, ''), metadata, changes, success, coalesce(ip, ''),
			coalesce(user_agent, ''), coalesce(request_id, ''), occurred_at
		from audit_logs%s
		order by occurred_at desc, id desc
		limit $%d offset $%d`, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, f.Skip)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e                 audit.Entry
			action, severity  string
			metadata, changes []byte
		)
		if err := rows.Scan(&e.ID, &action, &severity, &e.ActorID, &e.ActorEmail, &e.ResourceType,
			&e.ResourceID, &e.ResourceName, &metadata, &changes, &e.Success, &e.IP, &e.UserAgent,
			&e.RequestID, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		e.Action = audit.Action(action)
		e.Severity = audit.Severity(severity)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode metadata: %w", err)
			}
		}
		if len(changes) > 0 {
			e.Changes = &audit.Changes{}
			if err := json.Unmarshal(changes, e.Changes); err != nil {
				return nil, 0, fmt.Errorf("decode changes: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
