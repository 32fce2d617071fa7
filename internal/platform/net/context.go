// Package net carries request scoped identity and the response envelope
// shared by handlers and middleware
package net

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type userKey struct{}

// WithUser records the authenticated principal, empty ids are ignored
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID is the principal set by WithUser or ""
func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(userKey{}).(string)
	return uid
}

// RequestID is the id chi's RequestID middleware assigned or ""
func RequestID(ctx context.Context) string { return chimw.GetReqID(ctx) }
