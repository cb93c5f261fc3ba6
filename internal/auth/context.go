// ABOUTME: Authentication context for tracking the caller's handle through request handlers
// ABOUTME: Provides WithHandle/HandleFromContext for propagating auth info via context

package auth

import (
	"context"
)

// handleContextKey is the key type for storing the caller handle in context.Context.
type handleContextKey struct{}

// WithHandle returns a new context with the authenticated handle attached.
func WithHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, handleContextKey{}, handle)
}

// HandleFromContext retrieves the authenticated handle from the context,
// returning "" if not present.
func HandleFromContext(ctx context.Context) string {
	val := ctx.Value(handleContextKey{})
	if val == nil {
		return ""
	}
	handle, ok := val.(string)
	if !ok {
		return ""
	}
	return handle
}
