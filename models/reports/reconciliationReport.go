package reports

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reporter is the read-only facade behind the reconciliation endpoints.
// Ingestion failures never surface here; reports show whatever is committed.
type Reporter struct {
	DB         *gorm.DB
	Calculator *LifecycleCalculator
	Legacy     LegacyIncomeSource
	Thresholds config.ParityThresholds

	// Cache is nil unless ENABLE_REPORT_CACHE is set and Redis is connected.
	Cache    ReportCache
	CacheTTL time.Duration
}

func NewReporter(db *gorm.DB, thresholds config.ParityThresholds) *Reporter {
	collab := models.GormCollaborators{DB: db}
	return &Reporter{
		DB:         db,
		Calculator: NewLifecycleCalculator(collab),
		Legacy:     collab,
		Thresholds: thresholds,
		Cache:      defaultReportCache(),
		CacheTTL:   reportCacheTTL(),
	}
}

type CurrencyReconciliation struct {
	Currency              string          `json:"currency"`
	PaymentsReceived      decimal.Decimal `json:"payments_received"`
	Refunds               decimal.Decimal `json:"refunds"`
	NetReceived           decimal.Decimal `json:"net_received"`
	PayoutsPaid           decimal.Decimal `json:"payouts_paid"`
	PayoutsFailed         decimal.Decimal `json:"payouts_failed"`
	ManualDeposits        decimal.Decimal `json:"manual_deposits"`
	ManualAdjustments     decimal.Decimal `json:"manual_adjustments"`
	Deposited             decimal.Decimal `json:"deposited"`
	GapToDeposit          decimal.Decimal `json:"gap_to_deposit"`
	UnlinkedPaymentEvents int64           `json:"unlinked_payment_events"`
	UnlinkedPayoutEvents  int64           `json:"unlinked_payout_events"`
	UnlinkedCollected     decimal.Decimal `json:"unlinked_collected"`
}

type ReconciliationSummary struct {
	Period     models.Period            `json:"period"`
	Currencies []CurrencyReconciliation `json:"currencies"`
}

func (r *Reporter) GetLifecycleSummary(ctx context.Context, period models.Period) (LifecycleSummary, error) {
	return cachedReport(ctx, r.Cache, r.CacheTTL, "lifecycle", period, func() (LifecycleSummary, error) {
		return r.Calculator.Summarize(ctx, period)
	})
}

// GetReconciliationSummary breaks collected and deposited into their parts,
// per currency. Refunds are reported as a positive magnitude.
func (r *Reporter) GetReconciliationSummary(ctx context.Context, period models.Period) (ReconciliationSummary, error) {
	return cachedReport(ctx, r.Cache, r.CacheTTL, "summary", period, func() (ReconciliationSummary, error) {
		return r.reconciliationSummary(ctx, period)
	})
}

func (r *Reporter) reconciliationSummary(ctx context.Context, period models.Period) (ReconciliationSummary, error) {
	started := time.Now()
	defer logSlowReport(ctx, "reconciliation_summary", started, map[string]any{"period": period})

	aggregates, err := r.Calculator.Aggregates.PeriodAggregates(ctx, period)
	if err != nil {
		return ReconciliationSummary{}, err
	}
	manual, err := r.Calculator.Manual.ManualLedgerEntries(ctx, period)
	if err != nil {
		return ReconciliationSummary{}, err
	}
	unlinked, err := models.CountUnlinkedPaymentEvents(ctx, r.DB, period)
	if err != nil {
		return ReconciliationSummary{}, err
	}

	rows := map[string]*CurrencyReconciliation{}
	row := func(code string) *CurrencyReconciliation {
		code = strings.ToUpper(strings.TrimSpace(code))
		c, ok := rows[code]
		if !ok {
			c = &CurrencyReconciliation{Currency: code}
			rows[code] = c
		}
		return c
	}

	for _, a := range aggregates {
		c := row(a.Currency)
		amount := utils.MinorToDecimal(a.AmountMinor, c.Currency)
		switch a.Kind {
		case models.EventKindPaymentSucceeded:
			c.PaymentsReceived = c.PaymentsReceived.Add(amount)
		case models.EventKindPaymentRefunded:
			c.Refunds = c.Refunds.Sub(amount)
		case models.EventKindPayoutPaid:
			c.PayoutsPaid = c.PayoutsPaid.Add(amount)
		case models.EventKindPayoutFailed:
			c.PayoutsFailed = c.PayoutsFailed.Add(amount)
		}
		if a.Kind.IsPayment() && !a.Linked {
			c.UnlinkedCollected = c.UnlinkedCollected.Add(amount)
		}
	}
	for _, m := range manual {
		c := row(m.Currency)
		switch m.Reason {
		case models.ManualReasonBankDeposit:
			c.ManualDeposits = c.ManualDeposits.Add(m.Amount)
		case models.ManualReasonAdjustment:
			c.ManualAdjustments = c.ManualAdjustments.Add(m.Amount)
		}
	}
	for _, u := range unlinked {
		c := row(u.Currency)
		switch {
		case u.Kind.IsPayment():
			c.UnlinkedPaymentEvents += u.Count
		case u.Kind.IsPayout():
			c.UnlinkedPayoutEvents += u.Count
		}
	}

	out := ReconciliationSummary{Period: period, Currencies: make([]CurrencyReconciliation, 0, len(rows))}
	for _, c := range rows {
		c.NetReceived = c.PaymentsReceived.Sub(c.Refunds)
		c.Deposited = c.PayoutsPaid.Sub(c.PayoutsFailed).Add(c.ManualDeposits).Add(c.ManualAdjustments)
		c.GapToDeposit = c.NetReceived.Sub(c.Deposited)
		out.Currencies = append(out.Currencies, *c)
	}
	sort.Slice(out.Currencies, func(i, j int) bool {
		return out.Currencies[i].Currency < out.Currencies[j].Currency
	})
	return out, nil
}

// ListRuns returns run history, newest first. accountId 0 lists every account.
func (r *Reporter) ListRuns(ctx context.Context, accountId uint, limit int) ([]models.ReconciliationRun, error) {
	return models.ListReconciliationRuns(ctx, r.DB, accountId, limit)
}
