package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// RunCounts are the per-run event statistics.
type RunCounts struct {
	Fetched   int `gorm:"column:fetched_events;not null" json:"fetched_events"`
	Processed int `gorm:"column:processed_events;not null" json:"processed_events"`
	Duplicate int `gorm:"column:duplicate_events;not null" json:"duplicate_events"`
	Ignored   int `gorm:"column:ignored_events;not null" json:"ignored_events"`
	Failed    int `gorm:"column:failed_events;not null" json:"failed_events"`
	Unlinked  int `gorm:"column:unlinked_events;not null" json:"unlinked_events"`
}

func (c *RunCounts) Add(o RunCounts) {
	c.Fetched += o.Fetched
	c.Processed += o.Processed
	c.Duplicate += o.Duplicate
	c.Ignored += o.Ignored
	c.Failed += o.Failed
	c.Unlinked += o.Unlinked
}

func (c RunCounts) columns() map[string]interface{} {
	return map[string]interface{}{
		"fetched_events":   c.Fetched,
		"processed_events": c.Processed,
		"duplicate_events": c.Duplicate,
		"ignored_events":   c.Ignored,
		"failed_events":    c.Failed,
		"unlinked_events":  c.Unlinked,
	}
}

type ReconciliationRun struct {
	RunId              string      `gorm:"primaryKey;size:36" json:"run_id"`
	ProcessorAccountId uint        `gorm:"index;not null" json:"processor_account_id"`
	Mode               RunMode     `gorm:"size:20;not null" json:"mode"`
	Status             RunStatus   `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy        TriggeredBy `gorm:"size:20" json:"triggered_by"`
	MaxEvents          int         `json:"max_events"`
	CursorBefore       *string     `gorm:"size:255" json:"cursor_before"`
	CursorAfter        *string     `gorm:"size:255" json:"cursor_after"`
	RunCounts          `gorm:"embedded"`
	Error              *string    `gorm:"type:text" json:"error"`
	CorrelationId      string     `gorm:"size:64;index" json:"correlation_id"`
	StartedAt          time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at"`
	DurationMs         int64      `json:"duration_ms"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrRunAlreadyFinalized = errors.New("reconciliation run already finalized")

func CreateReconciliationRun(ctx context.Context, db *gorm.DB, run *ReconciliationRun) error {
	return db.WithContext(ctx).Create(run).Error
}

// UpdateRunProgress records committed progress. Called inside the page transaction.
func UpdateRunProgress(tx *gorm.DB, runId string, counts RunCounts, cursorAfter *string) error {
	update := counts.columns()
	update["cursor_after"] = cursorAfter
	update["updated_at"] = time.Now().UTC()
	return tx.Model(&ReconciliationRun{}).
		Where("run_id = ? AND finished_at IS NULL", runId).
		Updates(update).Error
}

type RunOutcome struct {
	Status      RunStatus
	Counts      RunCounts
	CursorAfter *string
	Error       *string
	FinishedAt  time.Time
}

// FinalizeReconciliationRun writes the terminal state once. A run that is
// already finalized is left untouched and ErrRunAlreadyFinalized is returned.
func FinalizeReconciliationRun(ctx context.Context, db *gorm.DB, run *ReconciliationRun, out RunOutcome) error {
	update := out.Counts.columns()
	update["status"] = out.Status
	update["cursor_after"] = out.CursorAfter
	update["error"] = out.Error
	update["finished_at"] = out.FinishedAt
	update["duration_ms"] = out.FinishedAt.Sub(run.StartedAt).Milliseconds()

	res := db.WithContext(ctx).Model(&ReconciliationRun{}).
		Where("run_id = ? AND finished_at IS NULL", run.RunId).
		Updates(update)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunAlreadyFinalized
	}
	run.Status = out.Status
	run.RunCounts = out.Counts
	run.CursorAfter = out.CursorAfter
	run.Error = out.Error
	finished := out.FinishedAt
	run.FinishedAt = &finished
	run.DurationMs = update["duration_ms"].(int64)
	return nil
}

func GetReconciliationRun(ctx context.Context, db *gorm.DB, runId string) (*ReconciliationRun, error) {
	var run ReconciliationRun
	if err := db.WithContext(ctx).Where("run_id = ?", runId).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// ListReconciliationRuns returns newest first. accountId 0 lists all accounts.
func ListReconciliationRuns(ctx context.Context, db *gorm.DB, accountId uint, limit int) ([]ReconciliationRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := db.WithContext(ctx).Model(&ReconciliationRun{})
	if accountId != 0 {
		q = q.Where("processor_account_id = ?", accountId)
	}
	var runs []ReconciliationRun
	err := q.Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}
