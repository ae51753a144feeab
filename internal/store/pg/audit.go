package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"securecms.org/internal/audit"
)

func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	var userID sql.NullInt64
	if rec.UserID != nil {
		userID = sql.NullInt64{Int64: *rec.UserID, Valid: true}
	}
	return q.QueryRowContext(ctx, `
		insert into audit_logs (table_name, operation, user_id, username, old_values, new_values, "timestamp", ip_address, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id
	`, rec.TableName, string(rec.Operation), userID, rec.Username,
		jsonParam(rec.OldValues), jsonParam(rec.NewValues), rec.Timestamp, rec.IPAddress, rec.UserAgent).Scan(&rec.ID)
}

// QueryAudit filters by table, actor and entity id. The entity match looks
// for {"id": N} inside the new values.
func (s *Store) QueryAudit(ctx context.Context, filter audit.Filter, limit int) ([]audit.Record, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var (
		conds []string
		args  []any
	)
	if filter.Table != "" {
		args = append(args, filter.Table)
		conds = append(conds, fmt.Sprintf("table_name = $%d", len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.EntityID != nil {
		args = append(args, *filter.EntityID)
		conds = append(conds, fmt.Sprintf("new_values @> jsonb_build_object('id', $%d::bigint)", len(args)))
	}
	query := `
		select id, table_name, operation, user_id, username, old_values, new_values, "timestamp", ip_address, user_agent
		from audit_logs`
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += ` order by "timestamp" desc, id desc`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []audit.Record{}
	for rows.Next() {
		var (
			rec            audit.Record
			op             string
			userID         sql.NullInt64
			oldRaw, newRaw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TableName, &op, &userID, &rec.Username, &oldRaw, &newRaw,
			&rec.Timestamp, &rec.IPAddress, &rec.UserAgent); err != nil {
			return nil, err
		}
		rec.Operation = audit.Operation(op)
		if userID.Valid {
			id := userID.Int64
			rec.UserID = &id
		}
		rec.OldValues = rawOrNil(oldRaw)
		rec.NewValues = rawOrNil(newRaw)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), b...))
}
