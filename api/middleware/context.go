package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(uuid.UUID); ok {
		return v.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.UserRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.UserRole); ok {
		return v
	}
	return ""
}

// PrincipalFromContext returns the authenticated caller seeded by Auth.
func PrincipalFromContext(ctx context.Context) (uuid.UUID, enums.UserRole, bool) {
	if ctx == nil {
		return uuid.Nil, "", false
	}
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, "", false
	}
	return id, RoleFromContext(ctx), true
}

// WithPrincipal injects the caller into the context.
func WithPrincipal(ctx context.Context, userID uuid.UUID, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxRole, role)
}
