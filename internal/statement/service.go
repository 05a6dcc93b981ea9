// Package statement orchestrates one statement's trip through the pipeline:
// cached parser versions first, code generation as the fallback, then
// duplicate-safe persistence and optional categorization.
package statement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/savichev/finparse/internal/generator"
	"github.com/savichev/finparse/internal/ingest"
	"github.com/savichev/finparse/internal/parsercode"
	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/internal/runner"
	apperrors "github.com/savichev/finparse/internal/shared/errors"
	"github.com/savichev/finparse/pkg/logger"
)

// Service runs the full pipeline for one statement at a time. Concurrent
// statements only share the parser code cache, which tolerates racy writers.
type Service struct {
	runner VersionRunner
	gen    CodeGenerator
	ingest Ingestor
	logger *logger.Logger
}

func NewService(r VersionRunner, gen CodeGenerator, ing Ingestor, log *logger.Logger) *Service {
	return &Service{
		runner: r,
		gen:    gen,
		ingest: ing,
		logger: log.WithField("component", "statement"),
	}
}

// ParseRequest is one statement to process.
type ParseRequest struct {
	Institution   string
	AccountType   string
	StatementText string
	Mode          record.Mode
	FormatHints   string

	AccountID string
	ProfileID uuid.UUID
	UserID    uuid.UUID
	Currency  string

	Expected   *runner.ExpectedSummary
	Categorize bool
}

// ParseResult reports how a statement was handled. Holdings are returned to
// the caller but never persisted.
type ParseResult struct {
	StatementID      uuid.UUID                `json:"statementId"`
	BankKey          string                   `json:"bankKey"`
	UsedVersion      int                      `json:"usedVersion"`
	TriedVersions    []int                    `json:"triedVersions"`
	Generated        bool                     `json:"generated"`
	GenerationSteps  int                      `json:"generationSteps,omitempty"`
	ValidationPassed bool                     `json:"validationPassed"`
	RecordCount      int                      `json:"recordCount"`
	InvalidCount     int                      `json:"invalidCount"`
	Holdings         []record.Holding         `json:"holdings,omitempty"`
	Insert           *ingest.InsertResult     `json:"insert,omitempty"`
	Categorization   *ingest.CategorizeResult `json:"categorization,omitempty"`
	ElapsedMs        int64                    `json:"elapsedMs"`
}

// Parse processes one statement end to end. Cached versions are tried first;
// generation runs only when the cache is exhausted. Terminal failure means
// both paths failed for this statement.
func (s *Service) Parse(ctx context.Context, req ParseRequest) (*ParseResult, error) {
	start := time.Now()

	if req.StatementText == "" {
		return nil, apperrors.BadRequest("statement text is required")
	}
	if req.Institution == "" {
		return nil, apperrors.BadRequest("institution is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = record.ModeTransaction
	}
	if !mode.Valid() {
		return nil, apperrors.BadRequest("mode must be transaction or holding")
	}

	bankKey := parsercode.BankKey(req.Institution, req.AccountType)
	res := &ParseResult{
		StatementID:   uuid.New(),
		BankKey:       bankKey,
		TriedVersions: []int{},
	}
	log := s.logger.WithField("bank_key", bankKey).WithField("statement_id", res.StatementID.String())

	var transactions []record.Transaction

	runRes, err := s.runner.Run(ctx, bankKey, req.StatementText, mode, req.Expected)
	if runRes != nil {
		res.TriedVersions = runRes.TriedVersions
	}
	switch {
	case err == nil && runRes.Success:
		res.UsedVersion = runRes.UsedVersion
		res.ValidationPassed = runRes.ValidationPassed
		res.InvalidCount = runRes.InvalidCount
		transactions = runRes.Transactions
		res.Holdings = runRes.Holdings

	case isExhausted(err):
		if s.gen == nil {
			return nil, apperrors.GenerationFailed("code generation is not configured", err)
		}
		log.Info("cached versions exhausted, generating parser code",
			"tried", res.TriedVersions)
		genRes, genErr := s.gen.Generate(ctx, generator.Request{
			BankKey:       bankKey,
			Institution:   req.Institution,
			AccountType:   req.AccountType,
			StatementText: req.StatementText,
			Mode:          mode,
			FormatHints:   req.FormatHints,
		})
		if genErr != nil {
			return nil, genErr
		}
		res.Generated = true
		res.GenerationSteps = genRes.Steps
		res.UsedVersion = genRes.Entry.Version
		res.InvalidCount = genRes.InvalidCount
		transactions = genRes.Transactions
		res.Holdings = genRes.Holdings

		// Generated output is kept either way; the totals check is reported
		// so callers can flag statements needing review.
		if mode == record.ModeTransaction && req.Expected.HasData() {
			ok, mismatches := runner.ComputeTotals(transactions).Matches(req.Expected)
			res.ValidationPassed = ok
			if !ok {
				log.Warn("generated parser output disagrees with statement totals",
					"mismatches", mismatches)
			}
		}

	default:
		return nil, err
	}

	res.RecordCount = len(transactions) + len(res.Holdings)

	if mode == record.ModeTransaction && len(transactions) > 0 {
		ins, err := s.ingest.Insert(ctx, ingest.InsertRequest{
			AccountID:   req.AccountID,
			StatementID: res.StatementID,
			ProfileID:   req.ProfileID,
			UserID:      req.UserID,
			Currency:    req.Currency,
			Records:     transactions,
		})
		if err != nil {
			return nil, err
		}
		res.Insert = ins

		if req.Categorize && ins.InsertedCount > 0 {
			cat, err := s.ingest.Categorize(ctx, res.StatementID)
			if err != nil {
				// The rows are stored; categorization can be re-run later.
				log.Warn("categorization pass failed", "error", err)
			} else {
				res.Categorization = cat
			}
		}
	}

	res.ElapsedMs = time.Since(start).Milliseconds()
	log.Info("statement processed",
		"used_version", res.UsedVersion, "generated", res.Generated,
		"records", res.RecordCount, "elapsed_ms", res.ElapsedMs)
	return res, nil
}

// Categorize re-runs the categorization pass for an already-stored statement.
func (s *Service) Categorize(ctx context.Context, statementID uuid.UUID) (*ingest.CategorizeResult, error) {
	res, err := s.ingest.Categorize(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if res.Total == 0 {
		return nil, apperrors.NotFound("statement")
	}
	return res, nil
}

func isExhausted(err error) bool {
	if err == nil {
		return false
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code == apperrors.ErrCodeParserExhausted
	}
	return false
}
