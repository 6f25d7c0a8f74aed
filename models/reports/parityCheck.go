package reports

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/shopspring/decimal"
)

type CurrencyParity struct {
	Currency          string          `json:"currency"`
	LifecyclePayments decimal.Decimal `json:"lifecycle_payments"`
	LegacyIncome      decimal.Decimal `json:"legacy_income"`
	Difference        decimal.Decimal `json:"difference"`
	Threshold         decimal.Decimal `json:"threshold"`
	WithinThreshold   bool            `json:"within_threshold"`
}

type ParityCheck struct {
	Period     models.Period    `json:"period"`
	Currencies []CurrencyParity `json:"currencies"`
}

// CompareParity pairs invoiced totals with the legacy ledger per currency.
// A currency missing on one side compares against zero.
func CompareParity(invoiced, legacy map[string]decimal.Decimal, thresholds config.ParityThresholds) []CurrencyParity {
	merged := map[string]*CurrencyParity{}
	row := func(code string) *CurrencyParity {
		code = strings.ToUpper(strings.TrimSpace(code))
		p, ok := merged[code]
		if !ok {
			p = &CurrencyParity{Currency: code}
			merged[code] = p
		}
		return p
	}
	for code, v := range invoiced {
		p := row(code)
		p.LifecyclePayments = p.LifecyclePayments.Add(v)
	}
	for code, v := range legacy {
		p := row(code)
		p.LegacyIncome = p.LegacyIncome.Add(v)
	}

	out := make([]CurrencyParity, 0, len(merged))
	for _, p := range merged {
		p.Difference = p.LifecyclePayments.Sub(p.LegacyIncome)
		p.Threshold = thresholds.For(p.Currency)
		p.WithinThreshold = p.Difference.Abs().LessThanOrEqual(p.Threshold)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

func (r *Reporter) ParityCheck(ctx context.Context, period models.Period) (ParityCheck, error) {
	return cachedReport(ctx, r.Cache, r.CacheTTL, "parity", period, func() (ParityCheck, error) {
		return r.parityCheck(ctx, period)
	})
}

func (r *Reporter) parityCheck(ctx context.Context, period models.Period) (ParityCheck, error) {
	started := time.Now()
	defer logSlowReport(ctx, "parity_check", started, map[string]any{"period": period})

	invoiced, err := r.Calculator.Invoicing.InvoicedTotals(ctx, period)
	if err != nil {
		return ParityCheck{}, err
	}
	legacy, err := r.Legacy.LegacyIncomeTotals(ctx, period)
	if err != nil {
		return ParityCheck{}, err
	}
	return ParityCheck{
		Period:     period,
		Currencies: CompareParity(invoiced, legacy, r.Thresholds),
	}, nil
}
