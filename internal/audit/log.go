package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"securecms.org/internal/obs"
)

// LogEvent writes a security event to the log stream enriched with the actor
// and request metadata carried by ctx. Events are not persisted; use
// Recorder.Record for state changes.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "info",
		"type":  "audit",
		"event": event,
	}
	meta := MetaFromContext(ctx)
	if meta.RequestID != "" {
		entry["request_id"] = meta.RequestID
	}
	if meta.IP != "" {
		entry["ip"] = meta.IP
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if actor.UserID != nil {
			entry["user_id"] = *actor.UserID
		}
		if actor.Username != "" {
			entry["username"] = actor.Username
		}
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	obs.LogRequest(entry)
	return nil
}
