package tools

import "context"

type contextKey string

const threadKeyContextKey contextKey = "thread_key"

// WithThreadKey attaches the conversation thread key to a context so
// tool handlers can associate external records with the conversation
// that produced them.
func WithThreadKey(ctx context.Context, threadKey string) context.Context {
	return context.WithValue(ctx, threadKeyContextKey, threadKey)
}

// ThreadKeyFromContext returns the thread key, or "" when absent.
func ThreadKeyFromContext(ctx context.Context) string {
	s, _ := ctx.Value(threadKeyContextKey).(string)
	return s
}
