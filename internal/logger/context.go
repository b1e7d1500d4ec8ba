package logger

import "context"

// ctxKey is unexported so no other package can collide with our context keys.
type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores the request correlation ID on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the correlation ID set by WithRequestID, or "" when the
// context carries none (background jobs, queue consumers).
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
