package workflow

import (
	"sort"
	"strings"

	"github.com/mmdatafocus/payrecon_backend/models"
)

var eventKindsByType = map[string]models.EventKind{
	"payment_intent.succeeded": models.EventKindPaymentSucceeded,
	"charge.refunded":          models.EventKindPaymentRefunded,
	"payout.paid":              models.EventKindPayoutPaid,
	"payout.failed":            models.EventKindPayoutFailed,
}

// ClassifyEventType maps a processor event type to its kind. Unknown types are ignored.
func ClassifyEventType(eventType string) models.EventKind {
	if kind, ok := eventKindsByType[strings.ToLower(strings.TrimSpace(eventType))]; ok {
		return kind
	}
	return models.EventKindIgnored
}

// SupportedEventTypes lists the types worth requesting from the processor, sorted.
func SupportedEventTypes() []string {
	out := make([]string, 0, len(eventKindsByType))
	for t := range eventKindsByType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
