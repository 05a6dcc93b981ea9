// Package runner tries cached parser code versions against a statement,
// newest first, validating each candidate's output against the totals the
// statement declares about itself.
package runner

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/savichev/finparse/internal/record"
)

// Tolerance is the fixed absolute tolerance for sum comparisons. It absorbs
// per-row 2-decimal rounding; counts are always compared exactly.
var Tolerance = decimal.NewFromFloat(0.05)

// ExpectedSummary carries statement-declared totals. A nil field means
// "unknown, skip that check". Balances are carried for reporting but are not
// part of totals validation.
type ExpectedSummary struct {
	DebitCount     *int     `json:"debit_count,omitempty"`
	CreditCount    *int     `json:"credit_count,omitempty"`
	TotalDebits    *float64 `json:"total_debits,omitempty"`
	TotalCredits   *float64 `json:"total_credits,omitempty"`
	OpeningBalance *float64 `json:"opening_balance,omitempty"`
	ClosingBalance *float64 `json:"closing_balance,omitempty"`
}

// HasData reports whether any checkable field is present.
func (s *ExpectedSummary) HasData() bool {
	if s == nil {
		return false
	}
	return s.DebitCount != nil || s.CreditCount != nil ||
		s.TotalDebits != nil || s.TotalCredits != nil
}

// ExtractedTotals is computed from accepted records: per-type counts and
// sums, sums rounded to 2 decimals.
type ExtractedTotals struct {
	DebitCount   int     `json:"debit_count"`
	CreditCount  int     `json:"credit_count"`
	TotalDebits  float64 `json:"total_debits"`
	TotalCredits float64 `json:"total_credits"`
}

// ComputeTotals aggregates transactions into per-type counts and 2-decimal
// sums.
func ComputeTotals(txs []record.Transaction) ExtractedTotals {
	debits := decimal.Zero
	credits := decimal.Zero
	var t ExtractedTotals

	for _, tx := range txs {
		amount := decimal.NewFromFloat(tx.Amount)
		if tx.Type == record.TypeDebit {
			t.DebitCount++
			debits = debits.Add(amount)
		} else {
			t.CreditCount++
			credits = credits.Add(amount)
		}
	}

	t.TotalDebits = debits.Round(2).InexactFloat64()
	t.TotalCredits = credits.Round(2).InexactFloat64()
	return t
}

// Matches checks extracted totals against the expected summary. Counts must
// match exactly when declared; sums must agree within Tolerance. The returned
// mismatches describe every failed check.
func (t ExtractedTotals) Matches(expected *ExpectedSummary) (bool, []string) {
	if !expected.HasData() {
		return true, nil
	}

	var mismatches []string

	if expected.DebitCount != nil && t.DebitCount != *expected.DebitCount {
		mismatches = append(mismatches,
			fmt.Sprintf("debit count: extracted %d, statement declares %d", t.DebitCount, *expected.DebitCount))
	}
	if expected.CreditCount != nil && t.CreditCount != *expected.CreditCount {
		mismatches = append(mismatches,
			fmt.Sprintf("credit count: extracted %d, statement declares %d", t.CreditCount, *expected.CreditCount))
	}
	if expected.TotalDebits != nil && !withinTolerance(t.TotalDebits, *expected.TotalDebits) {
		mismatches = append(mismatches,
			fmt.Sprintf("total debits: extracted %.2f, statement declares %.2f", t.TotalDebits, *expected.TotalDebits))
	}
	if expected.TotalCredits != nil && !withinTolerance(t.TotalCredits, *expected.TotalCredits) {
		mismatches = append(mismatches,
			fmt.Sprintf("total credits: extracted %.2f, statement declares %.2f", t.TotalCredits, *expected.TotalCredits))
	}

	return len(mismatches) == 0, mismatches
}

func withinTolerance(extracted, expected float64) bool {
	diff := decimal.NewFromFloat(extracted).Sub(decimal.NewFromFloat(expected)).Abs()
	return diff.LessThanOrEqual(Tolerance)
}
