package parsercode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/savichev/finparse/internal/parsercode"
)

func TestBankKey(t *testing.T) {
	tests := []struct {
		name        string
		institution string
		accountType string
		expected    string
	}{
		{"simple", "HDFC", "savings", "hdfc_savings"},
		{"spaces and case", "State Bank of India", "Current Account", "state_bank_of_india_current_account"},
		{"punctuation collapsed", "Barclays (UK) Ltd.", "credit-card", "barclays_uk_ltd_credit_card"},
		{"leading and trailing junk", "  ** ICICI ** ", "!savings!", "icici_savings"},
		{"unicode stripped", "Crédit Agricole", "savings", "cr_dit_agricole_savings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parsercode.BankKey(tt.institution, tt.accountType))
		})
	}
}

func TestBankKey_Deterministic(t *testing.T) {
	a := parsercode.BankKey("Chase Bank", "checking")
	b := parsercode.BankKey("Chase Bank", "checking")
	assert.Equal(t, a, b)
}
