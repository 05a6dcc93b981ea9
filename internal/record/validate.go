package record

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxDescriptionLen caps transaction descriptions.
	MaxDescriptionLen = 500
	// MaxNameLen caps holding names.
	MaxNameLen = 200
)

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// knownCurrencies is the whitelist of accepted ISO 4217 codes. Unknown codes
// degrade to null rather than rejecting the record.
var knownCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "INR": true, "JPY": true,
	"CHF": true, "CAD": true, "AUD": true, "SGD": true, "HKD": true,
	"AED": true, "CNY": true, "NZD": true, "SEK": true, "NOK": true,
	"DKK": true, "ZAR": true, "PLN": true, "BRL": true, "MXN": true,
}

// ParseTransaction validates one untrusted object and returns the canonical
// transaction. Required-field violations reject the whole record; optional
// fields degrade to null on bad values.
func ParseTransaction(m map[string]interface{}) (Transaction, error) {
	var t Transaction

	date, err := requiredString(m, "date")
	if err != nil {
		return t, err
	}
	date = strings.TrimSpace(date)
	if !dateRegexp.MatchString(date) {
		return t, fmt.Errorf("field %q must match YYYY-MM-DD, got %q", "date", date)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return t, fmt.Errorf("field %q is not a calendar date: %q", "date", date)
	}

	amount, err := requiredNumber(m, "amount")
	if err != nil {
		return t, err
	}
	if amount <= 0 {
		return t, fmt.Errorf("field %q must be > 0, got %v", "amount", amount)
	}

	txType, err := requiredString(m, "type")
	if err != nil {
		return t, err
	}
	txType = strings.ToLower(strings.TrimSpace(txType))
	if txType != TypeCredit && txType != TypeDebit {
		return t, fmt.Errorf("field %q must be %q or %q, got %q", "type", TypeCredit, TypeDebit, txType)
	}

	desc, err := requiredString(m, "description")
	if err != nil {
		return t, err
	}

	t = Transaction{
		Date:        date,
		Amount:      amount,
		Type:        txType,
		Description: desc,
		Balance:     optionalNumber(m, "balance"),
	}
	return t.Normalize(), nil
}

// ParseHolding validates one untrusted object and returns the canonical
// holding. Units may be null for balance-only instruments but must be a
// finite number when present.
func ParseHolding(m map[string]interface{}) (Holding, error) {
	var h Holding

	invType, err := requiredString(m, "investment_type")
	if err != nil {
		return h, err
	}

	name, err := requiredString(m, "name")
	if err != nil {
		return h, err
	}

	value, err := requiredNumber(m, "current_value")
	if err != nil {
		return h, err
	}

	// units is nullable but, unlike the other optionals, a present
	// non-numeric or non-finite value rejects the record: a holding with a
	// garbage unit count cannot be trusted.
	var units *float64
	if v, ok := m["units"]; ok && v != nil {
		f, ok := asNumber(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return h, fmt.Errorf("field %q must be null or a finite number, got %v", "units", v)
		}
		units = &f
	}

	h = Holding{
		InvestmentType: invType,
		Name:           name,
		CurrentValue:   value,
		Units:          units,
		InvestedValue:  optionalNumber(m, "invested_value"),
		ProfitLoss:     optionalNumber(m, "profit_loss"),
		Currency:       optionalString(m, "currency"),
	}
	return h.Normalize(), nil
}

// Normalize returns the canonical form of t. Idempotent.
func (t Transaction) Normalize() Transaction {
	t.Date = strings.TrimSpace(t.Date)
	t.Amount = math.Abs(t.Amount)
	t.Type = strings.ToLower(strings.TrimSpace(t.Type))
	t.Description = capString(strings.TrimSpace(t.Description), MaxDescriptionLen)
	t.Balance = finiteOrNil(t.Balance)
	return t
}

// Normalize returns the canonical form of h. Idempotent.
func (h Holding) Normalize() Holding {
	h.InvestmentType = strings.ToLower(strings.TrimSpace(h.InvestmentType))
	h.Name = capString(strings.TrimSpace(h.Name), MaxNameLen)
	h.Units = finiteOrNil(h.Units)
	h.InvestedValue = finiteOrNil(h.InvestedValue)
	h.ProfitLoss = finiteOrNil(h.ProfitLoss)

	if h.Currency != nil {
		code := strings.ToUpper(strings.TrimSpace(*h.Currency))
		if knownCurrencies[code] {
			h.Currency = &code
		} else {
			h.Currency = nil
		}
	}
	return h
}

// requiredString extracts a required non-empty string field.
func requiredString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("required field %q is empty", key)
	}
	return s, nil
}

// requiredNumber extracts a required finite number field.
func requiredNumber(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing required field %q", key)
	}
	f, ok := asNumber(v)
	if !ok {
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("field %q must be finite, got %v", key, f)
	}
	return f, nil
}

// optionalNumber extracts an optional number field, degrading to nil on
// absence, null, wrong type, or non-finite values.
func optionalNumber(m map[string]interface{}, key string) *float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	f, ok := asNumber(v)
	if !ok {
		return nil
	}
	return finiteOrNil(&f)
}

// optionalString extracts an optional string field, degrading to nil on
// absence, null, wrong type, or emptiness.
func optionalString(m map[string]interface{}, key string) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int: // unlikely from encoding/json, but harmless to support
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func finiteOrNil(f *float64) *float64 {
	if f == nil {
		return nil
	}
	if math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	v := *f
	return &v
}

// capString truncates to at most max runes, never splitting a multibyte
// character.
func capString(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
