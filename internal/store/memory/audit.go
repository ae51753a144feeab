package memory

import (
	"context"
	"sort"

	"securecms.org/internal/audit"
)

func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	return s.update(ctx, func(st *state) error {
		rec.ID = st.next("audit_logs")
		st.audits = append(st.audits, *rec)
		return nil
	})
}

func (s *Store) QueryAudit(ctx context.Context, filter audit.Filter, limit int) ([]audit.Record, error) {
	st := s.view(ctx)
	out := []audit.Record{}
	for _, rec := range st.audits {
		if filter.Table != "" && rec.TableName != filter.Table {
			continue
		}
		if filter.UserID != nil && (rec.UserID == nil || *rec.UserID != *filter.UserID) {
			continue
		}
		if filter.EntityID != nil && !audit.MatchesEntity(rec, *filter.EntityID) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
