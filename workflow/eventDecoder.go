package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/utils"
)

var ErrMalformedEvent = errors.New("malformed processor event")

// metadata keys that may carry the internal account id, in priority order
var accountMetadataKeys = []string{"account_id", "eva_account_id", "erp_account_id"}

// DecodedEvent is the normalized view of one processor event.
type DecodedEvent struct {
	EventId             string
	EventType           string
	Kind                models.EventKind
	OccurredAt          time.Time
	AmountMinor         int64
	Currency            string
	ExternalPaymentRef  string
	ExternalCustomerRef string
	MetadataAccountId   string
	Raw                 json.RawMessage
}

type eventEnvelope struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Created json.Number `json:"created"`
	Data    struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

// DecodeProcessorEvent extracts the fields the ledger needs from a raw event.
//
// On error the returned DecodedEvent still carries whatever was readable
// (id, type, kind) so the caller can record the event as failed. An event
// whose id cannot be read has EventId == "".
func DecodeProcessorEvent(raw json.RawMessage) (DecodedEvent, error) {
	out := DecodedEvent{Raw: raw, Kind: models.EventKindIgnored}

	var env eventEnvelope
	if err := utils.DecodeJSONNumbers(raw, &env); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out.EventId = strings.TrimSpace(env.ID)
	out.EventType = strings.TrimSpace(env.Type)
	out.Kind = ClassifyEventType(env.Type)
	if out.EventId == "" {
		return out, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}

	created, createdErr := parseUnixSeconds(env.Created)
	if createdErr == nil {
		out.OccurredAt = created
	}
	if out.Kind == models.EventKindIgnored {
		return out, nil
	}
	if createdErr != nil {
		return out, fmt.Errorf("%w: %s: created: %v", ErrMalformedEvent, out.EventId, createdErr)
	}

	obj := env.Data.Object
	if obj == nil {
		return out, fmt.Errorf("%w: %s: missing data.object", ErrMalformedEvent, out.EventId)
	}
	objectId := stringField(obj, "id")

	var amountKeys []string
	switch out.Kind {
	case models.EventKindPaymentSucceeded:
		amountKeys = []string{"amount_received", "amount"}
		out.ExternalPaymentRef = objectId
	case models.EventKindPaymentRefunded:
		out.ExternalPaymentRef = firstNonEmpty(stringField(obj, "payment_intent"), objectId)
	default:
		amountKeys = []string{"amount"}
		out.ExternalPaymentRef = objectId
	}

	var amount int64
	var err error
	if out.Kind == models.EventKindPaymentRefunded {
		amount, err = refundAmount(obj)
	} else {
		amount, err = firstAmount(obj, amountKeys...)
	}
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, out.EventId, err)
	}
	if out.Kind == models.EventKindPaymentRefunded {
		amount = -amount
	}
	out.AmountMinor = amount

	cur, err := utils.NormalizeCurrency(stringField(obj, "currency"))
	if err != nil {
		return out, fmt.Errorf("%w: %s: currency %q", ErrMalformedEvent, out.EventId, stringField(obj, "currency"))
	}
	out.Currency = cur

	out.ExternalCustomerRef = stringField(obj, "customer")
	out.MetadataAccountId = metadataAccountId(obj)
	return out, nil
}

// refundAmount prefers the newest entry of the embedded refund list, since
// amount_refunded is the charge's running total across partial refunds.
func refundAmount(obj map[string]any) (int64, error) {
	if refunds, ok := obj["refunds"].(map[string]any); ok {
		if data, ok := refunds["data"].([]any); ok && len(data) > 0 {
			if latest, ok := data[0].(map[string]any); ok && latest["amount"] != nil {
				return firstAmount(latest, "amount")
			}
		}
	}
	return firstAmount(obj, "amount_refunded", "amount")
}

func parseUnixSeconds(n json.Number) (time.Time, error) {
	if n == "" {
		return time.Time{}, errors.New("missing")
	}
	secs, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if secs <= 0 {
		return time.Time{}, errors.New("not positive")
	}
	return time.Unix(secs, 0).UTC(), nil
}

// firstAmount returns the first present, non-zero integer amount among keys,
// or zero when the keys are present but all zero.
func firstAmount(obj map[string]any, keys ...string) (int64, error) {
	seen := false
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		n, ok := v.(json.Number)
		if !ok {
			return 0, fmt.Errorf("%s is not a number", k)
		}
		amt, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s is not an integer", k)
		}
		if amt < 0 {
			return 0, fmt.Errorf("%s is negative", k)
		}
		seen = true
		if amt != 0 {
			return amt, nil
		}
	}
	if !seen {
		return 0, fmt.Errorf("missing amount (%s)", strings.Join(keys, ", "))
	}
	return 0, nil
}

// stringField reads a string, or the id of an expanded object.
func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

func metadataAccountId(obj map[string]any) string {
	md, ok := obj["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	for _, k := range accountMetadataKeys {
		if s, ok := md[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
