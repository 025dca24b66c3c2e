// Package audit writes structured audit entries for lifecycle transitions
// and administrative actions.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"

	"yescholars.org/internal/auth"
	"yescholars.org/internal/obs"
)

type requestIDKey struct{}

// WithRequestID attaches the request identifier to the context so later
// audit entries can be correlated with the access log.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// LogEvent writes an audit entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)

	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  event,
		"fields": copied,
	}
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok && rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Transition records one lifecycle transition: who moved which entity from
// where to where. Every status-changing endpoint emits exactly one of these.
func Transition(ctx context.Context, kind, entityID, action, from, to string) {
	_ = LogEvent(ctx, "lifecycle.transition", map[string]any{
		"kind":   kind,
		"entity": entityID,
		"action": action,
		"from":   from,
		"to":     to,
	})
}
