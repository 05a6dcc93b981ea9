// Package parsercode defines the versioned parser code entries generated for
// each institution/account-type pair, and the store contract used to persist
// them.
package parsercode

import (
	"regexp"
	"strings"
	"time"
)

// Entry is one saved parser code version. Code is immutable once saved; only
// the success/fail counters mutate afterwards.
type Entry struct {
	BankKey        string    `json:"bank_key"`
	Version        int       `json:"version"` // per-bankKey, monotonic from 1
	Code           string    `json:"code"`
	DetectedFormat string    `json:"detected_format"`
	DateFormat     string    `json:"date_format"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
	SuccessCount   int       `json:"success_count"`
	FailCount      int       `json:"fail_count"`
}

var nonAlnumRuns = regexp.MustCompile(`[^a-z0-9]+`)

// BankKey builds the deterministic bank signature for an institution and
// account type: lower-cased, non-alphanumeric runs collapsed to single
// underscores. Statements of the same shape map to the same key.
func BankKey(institution, accountType string) string {
	return slug(institution) + "_" + slug(accountType)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRuns.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
