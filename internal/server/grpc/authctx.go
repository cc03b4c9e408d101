package grpcserver

import (
	"context"

	"github.com/and161185/skin-sync/internal/auth"
)

type ctxKey string

const identityKey ctxKey = "ss.identity"

// WithIdentity stores the authenticated caller in context.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromCtx fetches the authenticated caller from context.
func IdentityFromCtx(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}
