// Package reconciliation checks that the ledger still conserves money:
// every posted transfer wrote one DEBIT and one CREDIT of equal amount.
package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
)

// LedgerSummer aggregates balances and entries across the ledger.
type LedgerSummer interface {
	SumBalances(ctx context.Context) (decimal.Decimal, error)
	SumEntries(ctx context.Context) (*ledger.EntryTotals, error)
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Match              bool      `json:"match"`
	TotalBalance       string    `json:"totalBalance"`
	Debits             string    `json:"debits"`
	Credits            string    `json:"credits"`
	Imbalance          string    `json:"imbalance"`
	Entries            int       `json:"entries"`
	CompletedTransfers int       `json:"completedTransfers"`
	Problems           []string  `json:"problems,omitempty"`
	CheckedAt          time.Time `json:"checkedAt"`
	DurationMs         int64     `json:"durationMs"`
}

// Service performs ledger reconciliation and keeps the latest report.
type Service struct {
	summer LedgerSummer
	clock  clockwork.Clock

	mu   sync.RWMutex
	last *Report
}

// NewService creates a reconciliation service.
func NewService(summer LedgerSummer, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{summer: summer, clock: clock}
}

// Reconcile runs every check once and stores the report.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	start := s.clock.Now()

	total, err := s.summer.SumBalances(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("failed to sum ledger balances: %w", err)
	}
	totals, err := s.summer.SumEntries(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("failed to sum ledger entries: %w", err)
	}

	imbalance := totals.Debits.Sub(totals.Credits)
	var problems []string
	if !imbalance.IsZero() {
		problems = append(problems, fmt.Sprintf("debits and credits differ by %s", ledger.Money(imbalance)))
	}
	if totals.Entries != 2*totals.CompletedTransfers {
		problems = append(problems, fmt.Sprintf("%d entries for %d completed transfers", totals.Entries, totals.CompletedTransfers))
	}
	if total.IsNegative() {
		problems = append(problems, "total balance is negative")
	}

	elapsed := s.clock.Since(start)
	report := &Report{
		Match:              len(problems) == 0,
		TotalBalance:       ledger.Money(total),
		Debits:             ledger.Money(totals.Debits),
		Credits:            ledger.Money(totals.Credits),
		Imbalance:          ledger.Money(imbalance),
		Entries:            totals.Entries,
		CompletedTransfers: totals.CompletedTransfers,
		Problems:           problems,
		CheckedAt:          start,
		DurationMs:         elapsed.Milliseconds(),
	}

	imb, _ := imbalance.Float64()
	reconcileImbalance.Set(imb)
	reconcileProblems.Set(float64(len(problems)))
	reconcileDuration.Observe(elapsed.Seconds())

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

// Last returns the most recent report, or nil before the first run.
func (s *Service) Last() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
