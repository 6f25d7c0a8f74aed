package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/payrecon_backend/appctx"
	"gorm.io/gorm"
)

var ErrAppendOnlyTable = errors.New("table is append-only")

// appendOnlyTables never accept UPDATE or DELETE through gorm.
var appendOnlyTables = map[string]struct{}{
	"payment_events": {},
}

// AppendOnlyGuardPlugin rejects Update/Delete statements against append-only tables.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL.
// - Maintenance bypass is explicit via appctx.ContextKeyAllowEventRewrite.
type AppendOnlyGuardPlugin struct{}

func NewAppendOnlyGuardPlugin() *AppendOnlyGuardPlugin { return &AppendOnlyGuardPlugin{} }

func (p *AppendOnlyGuardPlugin) Name() string { return "append_only_guard" }

func (p *AppendOnlyGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("append_only_guard:update", appendOnlyGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("append_only_guard:delete", appendOnlyGuardCallback); err != nil {
		return err
	}
	return nil
}

func appendOnlyGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if allowEventRewrite(db.Statement.Context) {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if _, ok := appendOnlyTables[table]; !ok {
		return
	}
	_ = db.AddError(fmt.Errorf("%s: %w", table, ErrAppendOnlyTable))
}

func allowEventRewrite(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := appctx.GetBool(ctx, appctx.ContextKeyAllowEventRewrite)
	return ok && v
}
