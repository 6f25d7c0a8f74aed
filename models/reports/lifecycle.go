package reports

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type AggregateSource interface {
	PeriodAggregates(ctx context.Context, period models.Period) ([]models.PeriodAggregate, error)
}

type InvoicingSource interface {
	InvoicedTotals(ctx context.Context, period models.Period) (map[string]decimal.Decimal, error)
}

type RecurringRevenueSource interface {
	ActiveRecurringEntries(ctx context.Context, period models.Period) ([]models.RecurringRevenueEntry, error)
}

type ManualLedgerSource interface {
	ManualLedgerEntries(ctx context.Context, period models.Period) ([]models.ManualLedgerEntry, error)
}

type LegacyIncomeSource interface {
	LegacyIncomeTotals(ctx context.Context, period models.Period) (map[string]decimal.Decimal, error)
}

// CurrencyLifecycle is the revenue funnel for one currency. Gaps are signed.
type CurrencyLifecycle struct {
	Currency          string          `json:"currency"`
	Projected         decimal.Decimal `json:"projected"`
	Invoiced          decimal.Decimal `json:"invoiced"`
	Collected         decimal.Decimal `json:"collected"`
	CollectedLinked   decimal.Decimal `json:"collected_linked"`
	CollectedUnlinked decimal.Decimal `json:"collected_unlinked"`
	Deposited         decimal.Decimal `json:"deposited"`
	GapToCollect      decimal.Decimal `json:"gap_to_collect"`
	GapToDeposit      decimal.Decimal `json:"gap_to_deposit"`
}

type LifecycleSummary struct {
	Period     models.Period       `json:"period"`
	Currencies []CurrencyLifecycle `json:"currencies"`
}

// Currency returns the row for code, if the period had any activity in it.
func (s LifecycleSummary) Currency(code string) (CurrencyLifecycle, bool) {
	for _, c := range s.Currencies {
		if c.Currency == code {
			return c, true
		}
	}
	return CurrencyLifecycle{}, false
}

// LifecycleCalculator derives the funnel on every call; nothing is stored.
type LifecycleCalculator struct {
	Aggregates AggregateSource
	Invoicing  InvoicingSource
	Recurring  RecurringRevenueSource
	Manual     ManualLedgerSource
}

func NewLifecycleCalculator(c models.GormCollaborators) *LifecycleCalculator {
	return &LifecycleCalculator{
		Aggregates: c,
		Invoicing:  c,
		Recurring:  c,
		Manual:     c,
	}
}

type lifecycleInputs struct {
	aggregates []models.PeriodAggregate
	invoiced   map[string]decimal.Decimal
	recurring  []models.RecurringRevenueEntry
	manual     []models.ManualLedgerEntry
}

func (c *LifecycleCalculator) load(ctx context.Context, period models.Period) (lifecycleInputs, error) {
	var in lifecycleInputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := c.Aggregates.PeriodAggregates(gctx, period)
		in.aggregates = rows
		return err
	})
	g.Go(func() error {
		totals, err := c.Invoicing.InvoicedTotals(gctx, period)
		in.invoiced = totals
		return err
	})
	g.Go(func() error {
		rows, err := c.Recurring.ActiveRecurringEntries(gctx, period)
		in.recurring = rows
		return err
	})
	g.Go(func() error {
		rows, err := c.Manual.ManualLedgerEntries(gctx, period)
		in.manual = rows
		return err
	})
	return in, g.Wait()
}

func (c *LifecycleCalculator) Summarize(ctx context.Context, period models.Period) (LifecycleSummary, error) {
	started := time.Now()
	defer logSlowReport(ctx, "lifecycle_summary", started, map[string]any{"period": period})

	in, err := c.load(ctx, period)
	if err != nil {
		return LifecycleSummary{}, err
	}

	rows := map[string]*CurrencyLifecycle{}
	row := func(code string) *CurrencyLifecycle {
		code = strings.ToUpper(strings.TrimSpace(code))
		r, ok := rows[code]
		if !ok {
			r = &CurrencyLifecycle{Currency: code}
			rows[code] = r
		}
		return r
	}

	for _, a := range in.aggregates {
		r := row(a.Currency)
		amount := utils.MinorToDecimal(a.AmountMinor, r.Currency)
		switch a.Kind {
		case models.EventKindPaymentSucceeded, models.EventKindPaymentRefunded:
			if a.Linked {
				r.CollectedLinked = r.CollectedLinked.Add(amount)
			} else {
				r.CollectedUnlinked = r.CollectedUnlinked.Add(amount)
			}
		case models.EventKindPayoutPaid:
			r.Deposited = r.Deposited.Add(amount)
		case models.EventKindPayoutFailed:
			r.Deposited = r.Deposited.Sub(amount)
		}
	}
	for code, total := range in.invoiced {
		r := row(code)
		r.Invoiced = r.Invoiced.Add(total)
	}
	for _, e := range in.recurring {
		r := row(e.Currency)
		r.Projected = r.Projected.Add(e.MonthlyEquivalent(utils.CurrencyScale(r.Currency)))
	}
	for _, m := range in.manual {
		if !m.Reason.Valid() {
			continue
		}
		r := row(m.Currency)
		r.Deposited = r.Deposited.Add(m.Amount)
	}

	out := LifecycleSummary{Period: period, Currencies: make([]CurrencyLifecycle, 0, len(rows))}
	for _, r := range rows {
		r.Collected = r.CollectedLinked.Add(r.CollectedUnlinked)
		r.GapToCollect = r.Invoiced.Sub(r.Collected)
		r.GapToDeposit = r.Collected.Sub(r.Deposited)
		out.Currencies = append(out.Currencies, *r)
	}
	sort.Slice(out.Currencies, func(i, j int) bool {
		return out.Currencies[i].Currency < out.Currencies[j].Currency
	})
	return out, nil
}
