package utils

import (
	"context"

	"github.com/mmdatafocus/payrecon_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyCorrelationId      = appctx.ContextKeyCorrelationId
	ContextKeyProcessorAccountId = appctx.ContextKeyProcessorAccountId
	ContextKeyRunId              = appctx.ContextKeyRunId
	ContextKeyTriggeredBy        = appctx.ContextKeyTriggeredBy
	ContextKeyAllowEventRewrite  = appctx.ContextKeyAllowEventRewrite
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetProcessorAccountIdFromContext(ctx context.Context) (uint, bool) {
	return appctx.GetUint(ctx, ContextKeyProcessorAccountId)
}

func SetProcessorAccountIdInContext(ctx context.Context, accountId uint) context.Context {
	return appctx.Set(ctx, ContextKeyProcessorAccountId, accountId)
}

func GetRunIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyRunId)
}

func SetRunIdInContext(ctx context.Context, runId string) context.Context {
	return appctx.Set(ctx, ContextKeyRunId, runId)
}

func GetTriggeredByFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTriggeredBy)
}

func SetTriggeredByInContext(ctx context.Context, triggeredBy string) context.Context {
	return appctx.Set(ctx, ContextKeyTriggeredBy, triggeredBy)
}

// SetAllowEventRewriteInContext opens the append-only guard for maintenance jobs.
func SetAllowEventRewriteInContext(ctx context.Context, allow bool) context.Context {
	return appctx.Set(ctx, ContextKeyAllowEventRewrite, allow)
}

// ContextLogFields collects the request-scoped ids present on ctx for
// structured log entries.
func ContextLogFields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
		fields["correlation_id"] = v
	}
	if v, ok := GetProcessorAccountIdFromContext(ctx); ok {
		fields["processor_account_id"] = v
	}
	if v, ok := GetRunIdFromContext(ctx); ok && v != "" {
		fields["run_id"] = v
	}
	if v, ok := GetTriggeredByFromContext(ctx); ok && v != "" {
		fields["triggered_by"] = v
	}
	return fields
}
