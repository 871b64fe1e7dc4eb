package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Handlers and job processors enrich their context once and every slog.*Context call
// below them carries connection or job identity without repeating it.
type LogFields struct {
	ConnID    *string // Transport connection ID
	UserID    *string // Session user ID (may be anonymous)
	Event     *string // Socket event name, e.g. "chat:message"
	JobID     *string // Job store ID
	Task      *string // Job name, e.g. "music-sync"
	Attempt   *int    // 1-based job attempt
	Component string  // Component name (OTel semantic convention style, e.g. "live.hub.chat")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ConnID != nil {
		result.ConnID = new.ConnID
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.Event != nil {
		result.Event = new.Event
	}
	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.Task != nil {
		result.Task = new.Task
	}
	if new.Attempt != nil {
		result.Attempt = new.Attempt
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like chat text or upstream error bodies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
