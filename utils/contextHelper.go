package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/pricelists_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyTaskId        = appctx.ContextKeyTaskId
	ContextKeySupplierId    = appctx.ContextKeySupplierId
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetTaskIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTaskId)
}

func SetTaskIdInContext(ctx context.Context, taskId string) context.Context {
	return appctx.Set(ctx, ContextKeyTaskId, taskId)
}

func GetSupplierIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeySupplierId)
}

func SetSupplierIdInContext(ctx context.Context, supplierId int) context.Context {
	return appctx.Set(ctx, ContextKeySupplierId, supplierId)
}
