package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var ErrProcessorUnavailable = errors.New("payment processor unavailable")

var tracer = otel.Tracer("payrecon/workflow")

// EventPage is one page of raw events in ascending order after the cursor.
type EventPage struct {
	Events     []json.RawMessage
	NextCursor string
	HasMore    bool
}

// EventSource reads the processor's event stream for an account.
type EventSource interface {
	ListEvents(ctx context.Context, account models.ProcessorAccount, after string, limit int) (EventPage, error)
}

// RunFinishedMessage is published after a run is finalized.
type RunFinishedMessage struct {
	RunId              string           `json:"run_id"`
	ProcessorAccountId uint             `json:"processor_account_id"`
	Mode               models.RunMode   `json:"mode"`
	Status             models.RunStatus `json:"status"`
	Counts             models.RunCounts `json:"counts"`
	CursorAfter        string           `json:"cursor_after"`
	FinishedAt         time.Time        `json:"finished_at"`
	CorrelationId      string           `json:"correlation_id"`
}

type RunPublisher interface {
	PublishRunFinished(ctx context.Context, msg RunFinishedMessage) error
}

type RunRequest struct {
	ProcessorAccountId uint
	Backfill           bool
	MaxEvents          int
	TriggeredBy        models.TriggeredBy
}

type RunResult struct {
	RunId        string           `json:"run_id"`
	Status       models.RunStatus `json:"status"`
	Counts       models.RunCounts `json:"counts"`
	CursorBefore string           `json:"cursor_before"`
	CursorAfter  string           `json:"cursor_after"`
	Error        string           `json:"error,omitempty"`
}

// Reconciler pulls processor events page by page and commits each page
// atomically: events, aggregates, cursor and run progress.
type Reconciler struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Source    EventSource
	Linker    EntityLinker
	Locker    RunLocker
	Publisher RunPublisher

	PageSize         int
	DefaultMaxEvents int
	LockTTL          time.Duration
	PublishTimeout   time.Duration
	Now              func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reconciler) maxEvents(requested int) int {
	n := requested
	if n <= 0 {
		n = r.DefaultMaxEvents
	}
	if n <= 0 {
		n = config.DefaultMaxEvents
	}
	if n > config.MaxEventsHardCap {
		n = config.MaxEventsHardCap
	}
	return n
}

func (r *Reconciler) pageSize() int {
	if r.PageSize <= 0 || r.PageSize > config.MaxPageSize {
		return config.MaxPageSize
	}
	return r.PageSize
}

func (r *Reconciler) publishTimeout() time.Duration {
	if r.PublishTimeout <= 0 {
		return 10 * time.Second
	}
	return r.PublishTimeout
}

func (r *Reconciler) lockTTL() time.Duration {
	if r.LockTTL <= 0 {
		return 2 * time.Minute
	}
	return r.LockTTL
}

// Run executes one reconciliation run. Partial and failed runs are reported
// through RunResult (with a nil error); the error return is reserved for runs
// that could not start: ErrRunInProgress, an unknown account, or a failure to
// create the run row.
func (r *Reconciler) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	logger := r.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	maxEvents := r.maxEvents(req.MaxEvents)
	mode := models.RunModeIncremental
	if req.Backfill {
		mode = models.RunModeBackfill
	}

	ctx, span := tracer.Start(ctx, "reconciliation.run", trace.WithAttributes(
		attribute.Int64("processor_account_id", int64(req.ProcessorAccountId)),
		attribute.String("mode", string(mode)),
		attribute.Int("max_events", maxEvents),
	))
	defer span.End()

	account, err := models.GetProcessorAccount(ctx, r.DB, req.ProcessorAccountId)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}

	lease, err := r.Locker.Acquire(ctx, account.ID, r.lockTTL())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			config.LogError(logger, "reconciliationWorkflow.go", "Run", "Releasing run lock", account.ID, rerr)
		}
	}()

	// cursorBefore is where this run starts reading: the stored cursor, or the
	// earliest event for a backfill.
	cursorBefore := utils.DereferencePtr(account.SyncCursor)
	if req.Backfill {
		cursorBefore = ""
	}
	cursor := cursorBefore
	// A backfill only establishes the cursor when none was ever stored.
	writeCursor := !req.Backfill || account.SyncCursor == nil

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	run := models.ReconciliationRun{
		RunId:              uuid.NewString(),
		ProcessorAccountId: account.ID,
		Mode:               mode,
		Status:             models.RunStatusRunning,
		TriggeredBy:        req.TriggeredBy,
		MaxEvents:          maxEvents,
		CursorBefore:       utils.NilIfEmpty(cursorBefore),
		CorrelationId:      correlationId,
		StartedAt:          r.now(),
	}
	if err := models.CreateReconciliationRun(ctx, r.DB, &run); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "Run", "Creating run row", account.ID, err)
		return RunResult{}, fmt.Errorf("create reconciliation run: %w", err)
	}
	span.SetAttributes(attribute.String("run_id", run.RunId))
	ctx = utils.SetRunIdInContext(ctx, run.RunId)

	log := logger.WithFields(logrus.Fields{
		"field":                "ReconciliationRun",
		"run_id":               run.RunId,
		"processor_account_id": account.ID,
		"mode":                 mode,
		"correlation_id":       correlationId,
	})
	log.Info("reconciliation run started")

	var (
		counts         models.RunCounts
		committedPages int
		abortErr       error
	)
	for counts.Fetched < maxEvents {
		if err := ctx.Err(); err != nil {
			abortErr = err
			break
		}
		if committedPages > 0 {
			if err := lease.Refresh(ctx); err != nil {
				abortErr = fmt.Errorf("refresh run lock: %w", err)
				break
			}
		}

		remaining := maxEvents - counts.Fetched
		limit := r.pageSize()
		if remaining < limit {
			limit = remaining
		}

		page, err := r.fetchPage(ctx, *account, cursor, limit)
		if err != nil {
			abortErr = err
			break
		}
		events := page.Events
		trimmed := false
		if len(events) > remaining {
			events = events[:remaining]
			trimmed = true
		}
		if len(events) == 0 {
			break
		}

		pageCounts, nextCursor, err := r.commitPage(ctx, &run, account.ID, events, page, trimmed, cursor, counts, writeCursor)
		if err != nil {
			abortErr = err
			break
		}
		counts.Add(pageCounts)
		cursor = nextCursor
		committedPages++
		log.WithFields(logrus.Fields{
			"page":      committedPages,
			"fetched":   pageCounts.Fetched,
			"processed": pageCounts.Processed,
			"duplicate": pageCounts.Duplicate,
			"cursor":    cursor,
		}).Debug("reconciliation page committed")

		if trimmed || !page.HasMore {
			break
		}
	}

	status := models.RunStatusSuccess
	var errMsg *string
	if abortErr != nil {
		status = models.RunStatusFailed
		if committedPages > 0 {
			status = models.RunStatusPartial
		}
		msg := abortErr.Error()
		errMsg = &msg
		span.RecordError(abortErr)
		span.SetStatus(codes.Error, msg)
		config.LogError(logger, "reconciliationWorkflow.go", "Run", "Run aborted", map[string]any{
			"run_id":          run.RunId,
			"committed_pages": committedPages,
		}, abortErr)
	}

	finCtx := context.WithoutCancel(ctx)
	finishedAt := r.now()
	if err := models.FinalizeReconciliationRun(finCtx, r.DB, &run, models.RunOutcome{
		Status:      status,
		Counts:      counts,
		CursorAfter: utils.NilIfEmpty(cursor),
		Error:       errMsg,
		FinishedAt:  finishedAt,
	}); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "Run", "Finalizing run", run.RunId, err)
	}
	if err := models.TouchProcessorSync(finCtx, r.DB, account.ID, finishedAt, status == models.RunStatusSuccess); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "Run", "Touching processor sync time", account.ID, err)
	}

	result := RunResult{
		RunId:        run.RunId,
		Status:       status,
		Counts:       counts,
		CursorBefore: cursorBefore,
		CursorAfter:  cursor,
		Error:        utils.DereferencePtr(errMsg),
	}
	r.publish(finCtx, log, run, result, finishedAt, correlationId)

	log.WithFields(logrus.Fields{
		"status":    status,
		"fetched":   counts.Fetched,
		"processed": counts.Processed,
		"duplicate": counts.Duplicate,
		"ignored":   counts.Ignored,
		"failed":    counts.Failed,
		"unlinked":  counts.Unlinked,
	}).Info("reconciliation run finished")
	return result, nil
}

func (r *Reconciler) fetchPage(ctx context.Context, account models.ProcessorAccount, cursor string, limit int) (EventPage, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.fetch_page", trace.WithAttributes(
		attribute.String("cursor", cursor),
		attribute.Int("limit", limit),
	))
	defer span.End()

	page, err := r.Source.ListEvents(ctx, account, cursor, limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrProcessorUnavailable) {
			return EventPage{}, err
		}
		return EventPage{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	span.SetAttributes(attribute.Int("events", len(page.Events)))
	return page, nil
}

// commitPage prepares every event outside the transaction, then records the
// page, advances the cursor and updates run progress in one transaction.
func (r *Reconciler) commitPage(
	ctx context.Context,
	run *models.ReconciliationRun,
	accountId uint,
	events []json.RawMessage,
	page EventPage,
	trimmed bool,
	cursor string,
	before models.RunCounts,
	writeCursor bool,
) (models.RunCounts, string, error) {
	meta := IngestMeta{
		ProcessorAccountId: accountId,
		Source:             models.EventSourceReconcile,
		RunId:              &run.RunId,
		ReceivedAt:         r.now(),
	}
	prepared := make([]PreparedEvent, 0, len(events))
	for _, raw := range events {
		p, err := PrepareProcessorEvent(ctx, r.Linker, raw, meta)
		if err != nil {
			return models.RunCounts{}, cursor, err
		}
		if p.Record == nil && r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"field":  "ReconciliationRun",
				"run_id": run.RunId,
			}).WithError(p.DecodeErr).Warn("event without id skipped")
		}
		prepared = append(prepared, p)
	}

	nextCursor := nextPageCursor(prepared, page, trimmed, cursor)

	pageCounts := models.RunCounts{Fetched: len(events)}
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range prepared {
			outcome, err := RecordPreparedEvent(tx, p)
			if err != nil {
				return err
			}
			countOutcome(&pageCounts, outcome, p)
		}
		if writeCursor && nextCursor != "" && nextCursor != cursor {
			if err := models.AdvanceSyncCursor(tx, accountId, nextCursor); err != nil {
				return err
			}
		}
		total := before
		total.Add(pageCounts)
		return models.UpdateRunProgress(tx, run.RunId, total, utils.NilIfEmpty(nextCursor))
	})
	if err != nil {
		return models.RunCounts{}, cursor, fmt.Errorf("commit page: %w", err)
	}
	return pageCounts, nextCursor, nil
}

// nextPageCursor is the id of the last event kept from the page. The source's
// own cursor is used only when no kept event has an id and nothing was trimmed.
func nextPageCursor(prepared []PreparedEvent, page EventPage, trimmed bool, cursor string) string {
	for i := len(prepared) - 1; i >= 0; i-- {
		if prepared[i].EventId != "" {
			return prepared[i].EventId
		}
	}
	if !trimmed && page.NextCursor != "" {
		return page.NextCursor
	}
	return cursor
}

func (r *Reconciler) publish(ctx context.Context, log *logrus.Entry, run models.ReconciliationRun, result RunResult, finishedAt time.Time, correlationId string) {
	if r.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.publishTimeout())
	defer cancel()
	err := r.Publisher.PublishRunFinished(ctx, RunFinishedMessage{
		RunId:              run.RunId,
		ProcessorAccountId: run.ProcessorAccountId,
		Mode:               run.Mode,
		Status:             result.Status,
		Counts:             result.Counts,
		CursorAfter:        result.CursorAfter,
		FinishedAt:         finishedAt,
		CorrelationId:      correlationId,
	})
	if err != nil {
		log.WithError(err).Warn("publish run finished failed")
	}
}
