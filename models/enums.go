package models

// EventKind is the closed classification of processor event types.
type EventKind string

const (
	EventKindPaymentSucceeded EventKind = "payment_succeeded"
	EventKindPaymentRefunded  EventKind = "payment_refunded"
	EventKindPayoutPaid       EventKind = "payout_paid"
	EventKindPayoutFailed     EventKind = "payout_failed"
	EventKindIgnored          EventKind = "ignored"
)

// AggregatedKinds are the kinds that contribute to period aggregates.
var AggregatedKinds = []EventKind{
	EventKindPaymentSucceeded,
	EventKindPaymentRefunded,
	EventKindPayoutPaid,
	EventKindPayoutFailed,
}

func (k EventKind) IsPayment() bool {
	return k == EventKindPaymentSucceeded || k == EventKindPaymentRefunded
}

func (k EventKind) IsPayout() bool {
	return k == EventKindPayoutPaid || k == EventKindPayoutFailed
}

func (k EventKind) Aggregated() bool {
	return k.IsPayment() || k.IsPayout()
}

type EventStatus string

const (
	EventStatusProcessed EventStatus = "processed"
	EventStatusIgnored   EventStatus = "ignored"
	EventStatusFailed    EventStatus = "failed"
)

type EventSource string

const (
	EventSourceReconcile EventSource = "reconcile"
	EventSourceWebhook   EventSource = "webhook"
)

type RunMode string

const (
	RunModeIncremental RunMode = "incremental"
	RunModeBackfill    RunMode = "backfill"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

type TriggeredBy string

const (
	TriggeredManual TriggeredBy = "manual"
	TriggeredSystem TriggeredBy = "system"
	TriggeredPubSub TriggeredBy = "pubsub"
	TriggeredCLI    TriggeredBy = "cli"
)

const (
	ProcessorProviderStripe = "stripe"
)

const (
	ProcessorStatusConnected    = "connected"
	ProcessorStatusDisconnected = "disconnected"
	ProcessorStatusError        = "error"
)

// ManualLedgerReason is the closed set of reasons a manual entry counts toward deposited.
type ManualLedgerReason string

const (
	ManualReasonBankDeposit ManualLedgerReason = "manual_bank_deposit"
	ManualReasonAdjustment  ManualLedgerReason = "adjustment"
)

func (r ManualLedgerReason) Valid() bool {
	return r == ManualReasonBankDeposit || r == ManualReasonAdjustment
}

type RecurrenceType string

const (
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceOneTime RecurrenceType = "one_time"
	RecurrenceCustom  RecurrenceType = "custom"
)
