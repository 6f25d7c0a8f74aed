package processorsync

import (
	"encoding/json"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/workflow"
)

type ReconcileRequest struct {
	ProcessorAccountId uint `json:"processor_account_id" binding:"required"`
	Backfill           bool `json:"backfill"`
	MaxEvents          int  `json:"max_events" binding:"omitempty,min=1,max=5000"`
}

type ReconcileResult struct {
	RunId           string           `json:"run_id"`
	Status          models.RunStatus `json:"status"`
	FetchedEvents   int              `json:"fetched_events"`
	ProcessedEvents int              `json:"processed_events"`
	DuplicateEvents int              `json:"duplicate_events"`
	IgnoredEvents   int              `json:"ignored_events"`
	FailedEvents    int              `json:"failed_events"`
	UnlinkedEvents  int              `json:"unlinked_events"`
	CursorBefore    *string          `json:"cursor_before"`
	CursorAfter     *string          `json:"cursor_after"`
	Error           *string          `json:"error,omitempty"`
}

func toReconcileResult(r workflow.RunResult) ReconcileResult {
	out := ReconcileResult{
		RunId:           r.RunId,
		Status:          r.Status,
		FetchedEvents:   r.Counts.Fetched,
		ProcessedEvents: r.Counts.Processed,
		DuplicateEvents: r.Counts.Duplicate,
		IgnoredEvents:   r.Counts.Ignored,
		FailedEvents:    r.Counts.Failed,
		UnlinkedEvents:  r.Counts.Unlinked,
	}
	if r.CursorBefore != "" {
		s := r.CursorBefore
		out.CursorBefore = &s
	}
	if r.CursorAfter != "" {
		s := r.CursorAfter
		out.CursorAfter = &s
	}
	if r.Error != "" {
		s := r.Error
		out.Error = &s
	}
	return out
}

type RunHistoryResponse struct {
	Items []models.ReconciliationRun `json:"items"`
}

type RunDetailResponse struct {
	models.ReconciliationRun
	EventCounts []models.EventStatusCount `json:"event_counts"`
}

type WebhookResponse struct {
	Received bool                   `json:"received"`
	EventId  string                 `json:"event_id,omitempty"`
	Outcome  workflow.IngestOutcome `json:"outcome,omitempty"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ReconcilePubSubPayload asks for a run, same fields as the HTTP trigger.
type ReconcilePubSubPayload struct {
	ProcessorAccountId uint   `json:"processor_account_id"`
	Backfill           bool   `json:"backfill"`
	MaxEvents          int    `json:"max_events"`
	CorrelationId      string `json:"correlation_id,omitempty"`
}

func decodePushPayload(body []byte) (ReconcilePubSubPayload, error) {
	var envelope PubSubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ReconcilePubSubPayload{}, err
	}
	var payload ReconcilePubSubPayload
	if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
		return ReconcilePubSubPayload{}, err
	}
	return payload, nil
}
