// Package sandbox executes untrusted, LLM-generated parser code against
// statement text. Two interchangeable strategies sit behind the Executor
// contract: an isolated node subprocess and a statically-vetted in-process
// interpreter. Neither is ever hard-wired; callers pick via New.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/pkg/logger"
)

// MaxRecords caps how many validated records one execution may return.
// Anything beyond the cap is dropped and the result marked truncated.
const MaxRecords = 10000

// Default wall-clock timeouts per strategy. The isolated budget includes
// node startup.
const (
	DefaultIsolatedTimeout = 30 * time.Second
	DefaultLocalTimeout    = 5 * time.Second
)

// ErrorKind classifies execution failures. None of them are fatal to the
// caller; the multi-version runner treats each as "this version failed".
type ErrorKind string

const (
	KindDenied         ErrorKind = "deny_list_rejected"
	KindSyntax         ErrorKind = "syntax_error"
	KindRuntime        ErrorKind = "runtime_error"
	KindTimeout        ErrorKind = "timeout"
	KindMissingMarkers ErrorKind = "missing_markers"
	KindMalformedJSON  ErrorKind = "malformed_json"
	KindNotArray       ErrorKind = "not_array"
)

// Error is a typed execution failure. Snippet carries the offending code or
// output fragment when one exists.
type Error struct {
	Kind    ErrorKind
	Message string
	Snippet string
}

func (e *Error) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("%s: %s (near %q)", e.Kind, e.Message, e.Snippet)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is the outcome of running one candidate code string against one
// statement. Exactly one of Transactions/Holdings is populated, depending on
// mode. InvalidCount counts records that failed validation and were dropped
// without failing the execution.
type Result struct {
	Success      bool
	Transactions []record.Transaction
	Holdings     []record.Holding
	InvalidCount int
	Truncated    bool
	Err          *Error
	Duration     time.Duration
}

// ExecutionTimeMs reports the elapsed wall-clock time in milliseconds.
func (r *Result) ExecutionTimeMs() int64 {
	return r.Duration.Milliseconds()
}

// RecordCount reports how many validated records the execution produced.
func (r *Result) RecordCount() int {
	if len(r.Transactions) > 0 {
		return len(r.Transactions)
	}
	return len(r.Holdings)
}

// Executor runs one parser code string (a function body receiving
// statementText, expected to return an array) against one statement.
// Implementations must release all resources on every exit path.
type Executor interface {
	Execute(ctx context.Context, code, statementText string, mode record.Mode) *Result
}

// failure builds an error result.
func failure(kind ErrorKind, message, snippet string, elapsed time.Duration) *Result {
	return &Result{
		Success:  false,
		Err:      &Error{Kind: kind, Message: message, Snippet: snippet},
		Duration: elapsed,
	}
}

// collect validates every item of the raw array via the record package,
// silently counting invalid items, and caps accepted records at MaxRecords.
func collect(items []interface{}, mode record.Mode, elapsed time.Duration, log *logger.Logger) *Result {
	res := &Result{Success: true, Duration: elapsed}

	for i, item := range items {
		if res.RecordCount() >= MaxRecords {
			res.Truncated = true
			log.Warn("record cap reached, truncating output",
				"cap", MaxRecords, "total_items", len(items))
			break
		}

		obj, ok := item.(map[string]interface{})
		if !ok {
			res.InvalidCount++
			continue
		}

		switch mode {
		case record.ModeHolding:
			h, err := record.ParseHolding(obj)
			if err != nil {
				res.InvalidCount++
				log.Debug("dropping invalid holding", "index", i, "error", err)
				continue
			}
			res.Holdings = append(res.Holdings, h)
		default:
			tx, err := record.ParseTransaction(obj)
			if err != nil {
				res.InvalidCount++
				log.Debug("dropping invalid transaction", "index", i, "error", err)
				continue
			}
			res.Transactions = append(res.Transactions, tx)
		}
	}

	return res
}

// snippetOf trims s for inclusion in error messages.
func snippetOf(s string) string {
	const max = 120
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
