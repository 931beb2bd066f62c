package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/trading_backend/appctx"
	"bitbucket.org/mmdatafocus/trading_backend/models"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyUserRole      = appctx.ContextKeyUserRole
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyIdempotency   = appctx.ContextKeyIdempotency
)

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserRole)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

// SetUserInContext stores the authenticated caller.
func SetUserInContext(ctx context.Context, userId int, userName string, role string) context.Context {
	ctx = appctx.Set(ctx, ContextKeyUserId, userId)
	ctx = appctx.Set(ctx, ContextKeyUserName, userName)
	return appctx.Set(ctx, ContextKeyUserRole, role)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetIdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyIdempotency)
}

func SetIdempotencyKeyInContext(ctx context.Context, key string) context.Context {
	return appctx.Set(ctx, ContextKeyIdempotency, key)
}

// GetActorFromContext returns the caller set by the auth middleware.
func GetActorFromContext(ctx context.Context) (models.Actor, bool) {
	userId, ok := GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return models.Actor{}, false
	}
	role, _ := GetUserRoleFromContext(ctx)
	return models.Actor{UserId: userId, Role: models.UserRole(role)}, true
}
