// Package record defines the extracted financial records produced by
// generated parser code, together with their validation and normalization
// rules. Everything arriving here is untrusted model output.
package record

// Mode selects which record shape a parser extracts.
type Mode string

const (
	// ModeTransaction extracts bank statement transactions.
	ModeTransaction Mode = "transaction"
	// ModeHolding extracts investment statement holdings.
	ModeHolding Mode = "holding"
)

// Valid reports whether m is a known extraction mode.
func (m Mode) Valid() bool {
	return m == ModeTransaction || m == ModeHolding
}

// Transaction types.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// Transaction is one canonicalized bank statement line.
type Transaction struct {
	Date        string   `json:"date"` // YYYY-MM-DD
	Amount      float64  `json:"amount"`
	Type        string   `json:"type"` // credit | debit
	Description string   `json:"description"`
	Balance     *float64 `json:"balance,omitempty"`
}

// Holding is one canonicalized investment statement position.
// Units is nil for balance-only instruments (e.g. fixed deposits).
type Holding struct {
	InvestmentType string   `json:"investment_type"`
	Name           string   `json:"name"`
	CurrentValue   float64  `json:"current_value"`
	Units          *float64 `json:"units,omitempty"`
	InvestedValue  *float64 `json:"invested_value,omitempty"`
	ProfitLoss     *float64 `json:"profit_loss,omitempty"`
	Currency       *string  `json:"currency,omitempty"`
}
