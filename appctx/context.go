package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyCorrelationId      = ContextKey("CorrelationId")
	ContextKeyProcessorAccountId = ContextKey("ProcessorAccountId")
	ContextKeyRunId              = ContextKey("RunId")
	ContextKeyTriggeredBy        = ContextKey("TriggeredBy")

	// ContextKeyAllowEventRewrite lets maintenance jobs bypass the append-only guard.
	// Use sparingly (internal ops only).
	ContextKeyAllowEventRewrite = ContextKey("AllowEventRewrite")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func GetUint(ctx context.Context, key ContextKey) (uint, bool) {
	v, ok := ctx.Value(key).(uint)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
