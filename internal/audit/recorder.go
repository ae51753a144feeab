// Package audit records an append-only trail of state changes.
//
// Records are written inside the caller's unit of work so a failed audit write
// fails the whole operation. Nothing in this package updates or deletes a
// stored record.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"securecms.org/internal/obs"
	"securecms.org/internal/uow"
)

// Operation is the kind of change a record describes.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

const (
	DefaultPageSize       = 100
	DefaultScopedPageSize = 50
	MaxPageSize           = 1000
)

// Record is one stored audit entry.
type Record struct {
	ID        int64           `json:"id"`
	TableName string          `json:"tableName"`
	Operation Operation       `json:"operation"`
	UserID    *int64          `json:"userId,omitempty"`
	Username  string          `json:"username,omitempty"`
	OldValues json.RawMessage `json:"oldValues,omitempty"`
	NewValues json.RawMessage `json:"newValues,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	IPAddress string          `json:"ipAddress,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
}

// Entry is what callers hand to Record. Old is nil for inserts and New is nil
// for deletes.
type Entry struct {
	Table     string
	Operation Operation
	Old       any
	New       any
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Table    string
	UserID   *int64
	EntityID *int64
}

func (f Filter) scoped() bool {
	return f.UserID != nil || f.EntityID != nil
}

// Store persists audit records. Append must assign rec.ID. Query returns
// records newest first, at most limit of them.
type Store interface {
	AppendAudit(ctx context.Context, rec *Record) error
	QueryAudit(ctx context.Context, filter Filter, limit int) ([]Record, error)
}

// Publisher receives committed records.
type Publisher interface {
	Publish(rec Record)
}

// Recorder writes and queries audit records.
type Recorder struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// NewRecorder constructs a recorder. publisher may be nil.
func NewRecorder(store Store, publisher Publisher) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	return &Recorder{store: store, publisher: publisher, now: time.Now}, nil
}

// Record stores one audit record and returns its id. The actor and request
// metadata are taken from ctx. The log mirror and the live feed see the record
// only after the enclosing unit of work commits.
func (r *Recorder) Record(ctx context.Context, e Entry) (int64, error) {
	e.Table = strings.TrimSpace(e.Table)
	if e.Table == "" {
		return 0, errors.New("audit: table name is required")
	}
	switch e.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return 0, fmt.Errorf("audit: unsupported operation %q", e.Operation)
	}

	oldValues, err := Snapshot(e.Old)
	if err != nil {
		return 0, fmt.Errorf("audit: encode old values: %w", err)
	}
	newValues, err := Snapshot(e.New)
	if err != nil {
		return 0, fmt.Errorf("audit: encode new values: %w", err)
	}

	rec := Record{
		TableName: e.Table,
		Operation: e.Operation,
		OldValues: oldValues,
		NewValues: newValues,
		Timestamp: r.now().UTC(),
	}
	if actor, ok := ActorFromContext(ctx); ok {
		rec.UserID = actor.UserID
		rec.Username = actor.Username
	}
	meta := MetaFromContext(ctx)
	rec.IPAddress = meta.IP
	rec.UserAgent = meta.UserAgent

	if err := r.store.AppendAudit(ctx, &rec); err != nil {
		return 0, fmt.Errorf("audit: write record: %w", err)
	}
	obs.ObserveAudit(rec.TableName, string(rec.Operation))

	requestID := meta.RequestID
	uow.AfterCommit(ctx, func() {
		r.mirror(rec, requestID)
		if r.publisher != nil {
			r.publisher.Publish(rec)
		}
	})
	return rec.ID, nil
}

// Query returns matching records newest first. A non-positive pageSize picks
// the default for the filter: 100 for unscoped listings, 50 when filtering by
// user or entity.
func (r *Recorder) Query(ctx context.Context, filter Filter, pageSize int) ([]Record, error) {
	filter.Table = strings.TrimSpace(filter.Table)
	if pageSize <= 0 {
		pageSize = DefaultPageSize
		if filter.scoped() {
			pageSize = DefaultScopedPageSize
		}
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return r.store.QueryAudit(ctx, filter, pageSize)
}

func (r *Recorder) mirror(rec Record, requestID string) {
	entry := map[string]any{
		"ts":        rec.Timestamp.Format(time.RFC3339Nano),
		"level":     "info",
		"type":      "audit",
		"event":     "audit.record",
		"audit_id":  rec.ID,
		"table":     rec.TableName,
		"operation": rec.Operation,
	}
	if requestID != "" {
		entry["request_id"] = requestID
	}
	if rec.UserID != nil {
		entry["user_id"] = *rec.UserID
	}
	if rec.Username != "" {
		entry["username"] = rec.Username
	}
	obs.LogRequest(entry)
}

// Snapshot serializes v for storage. nil yields nil.
func Snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// MatchesEntity reports whether a record's new state carries the given id.
// Stores without native JSON containment use it to filter by entity.
func MatchesEntity(rec Record, id int64) bool {
	if len(rec.NewValues) == 0 {
		return false
	}
	var probe struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.NewValues, &probe); err != nil {
		return false
	}
	return probe.ID != nil && *probe.ID == id
}
