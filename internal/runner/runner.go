package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/savichev/finparse/internal/parsercode"
	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/internal/sandbox"
	apperrors "github.com/savichev/finparse/internal/shared/errors"
	"github.com/savichev/finparse/pkg/logger"
)

// Runner executes cached parser versions newest-first until one both runs
// and, when the statement declares totals, matches them.
type Runner struct {
	store parsercode.Store
	exec  sandbox.Executor
	log   *logger.Logger
}

// New creates a multi-version runner.
func New(store parsercode.Store, exec sandbox.Executor, log *logger.Logger) *Runner {
	return &Runner{
		store: store,
		exec:  exec,
		log:   log.WithField("component", "runner"),
	}
}

// Result reports one multi-version trial.
type Result struct {
	Success          bool                 `json:"success"`
	UsedVersion      int                  `json:"used_version,omitempty"`
	TriedVersions    []int                `json:"tried_versions"`
	ValidationPassed bool                 `json:"validation_passed"`
	Transactions     []record.Transaction `json:"transactions,omitempty"`
	Holdings         []record.Holding     `json:"holdings,omitempty"`
	InvalidCount     int                  `json:"invalid_count"`
	ExecutionTimeMs  int64                `json:"execution_time_ms"`
}

// Run tries every cached version for bankKey against the statement text.
// A version is accepted when it produces at least one record and either no
// expected totals exist (the code is trusted as-is) or the extracted totals
// match the declared ones. A successful-but-wrong execution counts as a
// failed attempt. Exhaustion returns an error carrying every tried version.
func (r *Runner) Run(ctx context.Context, bankKey, statementText string, mode record.Mode, expected *ExpectedSummary) (*Result, error) {
	start := time.Now()

	entries, err := r.store.ListVersions(ctx, bankKey)
	if err != nil {
		return nil, fmt.Errorf("listing parser versions for %s: %w", bankKey, err)
	}

	res := &Result{TriedVersions: []int{}}
	log := r.log.WithField("bank_key", bankKey)

	var lastFailure *apperrors.AppError
	for _, entry := range entries {
		res.TriedVersions = append(res.TriedVersions, entry.Version)
		vlog := log.WithField("version", entry.Version)

		exec := r.exec.Execute(ctx, entry.Code, statementText, mode)

		if exec.Err != nil {
			vlog.Warn("version failed to execute", "kind", exec.Err.Kind, "error", exec.Err.Message)
			lastFailure = executionFailure(exec.Err)
			r.recordFailure(ctx, bankKey, entry.Version)
			continue
		}
		if exec.RecordCount() == 0 {
			vlog.Warn("version executed but extracted no records")
			lastFailure = apperrors.New(apperrors.ErrCodeOutputMalformed, "execution produced no records")
			r.recordFailure(ctx, bankKey, entry.Version)
			continue
		}

		// Holdings have no statement-declared totals to check, and without
		// expected data there is nothing to validate against: trust the code.
		if mode != record.ModeTransaction || !expected.HasData() {
			vlog.Info("version accepted without totals validation",
				"records", exec.RecordCount(), "invalid", exec.InvalidCount)
			r.recordSuccess(ctx, bankKey, entry.Version)
			return r.accept(res, entry.Version, exec, false, start), nil
		}

		totals := ComputeTotals(exec.Transactions)
		ok, mismatches := totals.Matches(expected)
		if !ok {
			vlog.Warn("version output disagrees with statement totals",
				"mismatches", mismatches)
			lastFailure = apperrors.TotalsMismatch(
				fmt.Sprintf("extracted totals disagree with declared summary: %v", mismatches))
			r.recordFailure(ctx, bankKey, entry.Version)
			continue
		}

		vlog.Info("version accepted with totals validation",
			"records", exec.RecordCount(), "invalid", exec.InvalidCount)
		r.recordSuccess(ctx, bankKey, entry.Version)
		return r.accept(res, entry.Version, exec, true, start), nil
	}

	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	msg := fmt.Sprintf("all %d cached versions failed for %s (tried %v)",
		len(res.TriedVersions), bankKey, res.TriedVersions)
	if lastFailure == nil {
		return res, apperrors.ParserExhausted(msg)
	}
	msg = fmt.Sprintf("%s: last failure %s: %s", msg, lastFailure.Code, lastFailure.Message)
	return res, apperrors.Wrap(lastFailure, apperrors.ErrCodeParserExhausted, msg)
}

// executionFailure types a sandbox failure with the matching error code.
func executionFailure(e *sandbox.Error) *apperrors.AppError {
	switch e.Kind {
	case sandbox.KindDenied:
		return apperrors.Wrap(e, apperrors.ErrCodeSandboxRejected, e.Message)
	case sandbox.KindTimeout:
		return apperrors.Wrap(e, apperrors.ErrCodeSandboxTimeout, e.Message)
	case sandbox.KindMissingMarkers, sandbox.KindMalformedJSON, sandbox.KindNotArray:
		return apperrors.Wrap(e, apperrors.ErrCodeOutputMalformed, e.Message)
	default:
		return apperrors.Wrap(e, apperrors.ErrCodeSandboxRuntime, e.Message)
	}
}

func (r *Runner) accept(res *Result, version int, exec *sandbox.Result, validated bool, start time.Time) *Result {
	res.Success = true
	res.UsedVersion = version
	res.ValidationPassed = validated
	res.Transactions = exec.Transactions
	res.Holdings = exec.Holdings
	res.InvalidCount = exec.InvalidCount
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	return res
}

// Counter updates are advisory; their failures are logged, never escalated.
func (r *Runner) recordSuccess(ctx context.Context, bankKey string, version int) {
	if err := r.store.RecordSuccess(ctx, bankKey, version); err != nil {
		r.log.Warn("failed to record success counter", "bank_key", bankKey, "version", version, "error", err)
	}
}

func (r *Runner) recordFailure(ctx context.Context, bankKey string, version int) {
	if err := r.store.RecordFailure(ctx, bankKey, version); err != nil {
		r.log.Warn("failed to record failure counter", "bank_key", bankKey, "version", version, "error", err)
	}
}
