package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/savichev/finparse/internal/record"
	apperrors "github.com/savichev/finparse/internal/shared/errors"
	"github.com/savichev/finparse/pkg/logger"
)

// Service ingests parsed transactions and categorizes stored statements.
type Service struct {
	repo   Repo
	model  ModelJSON
	logger *logger.Logger
}

func NewService(repo Repo, model ModelJSON, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		model:  model,
		logger: log.WithField("component", "ingest"),
	}
}

// InsertRequest carries one statement's validated records plus the owning
// identifiers every stored row is tagged with.
type InsertRequest struct {
	AccountID   string
	StatementID uuid.UUID
	ProfileID   uuid.UUID
	UserID      uuid.UUID
	Currency    string
	Records     []record.Transaction
}

// InsertResult reports what one batch insert actually did.
type InsertResult struct {
	InsertedCount     int         `json:"insertedCount"`
	SkippedDuplicates int         `json:"skippedDuplicates"`
	IDs               []uuid.UUID `json:"ids"`
}

// Insert stores a batch of records. Rows whose dedup hash already exists are
// skipped up front; conflicts that slip through to the insert (a concurrent
// ingest of the same statement) are skipped by the unique constraint and
// reported the same way.
func (s *Service) Insert(ctx context.Context, req InsertRequest) (*InsertResult, error) {
	log := s.logger.WithField("statement_id", req.StatementID.String())

	if len(req.Records) == 0 {
		return &InsertResult{}, nil
	}

	hashes := make([]string, len(req.Records))
	for i, r := range req.Records {
		hashes[i] = DedupHash(req.AccountID, r.Date, decimal.NewFromFloat(r.Amount), r.Description, i)
	}

	existing, err := s.repo.ExistingHashes(ctx, req.AccountID, hashes)
	if err != nil {
		return nil, apperrors.DatabaseError("checking existing hashes", err)
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(hashes))
	var rows []*Transaction
	skipped := 0
	for i, r := range req.Records {
		hash := hashes[i]
		if _, dup := existing[hash]; dup {
			skipped++
			continue
		}
		if _, dup := seen[hash]; dup {
			skipped++
			continue
		}
		seen[hash] = struct{}{}

		date, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			return nil, apperrors.Validation(fmt.Sprintf("record %d has invalid date %q", i, r.Date))
		}
		row := &Transaction{
			ID:           uuid.New(),
			AccountID:    req.AccountID,
			StatementID:  req.StatementID,
			ProfileID:    req.ProfileID,
			UserID:       req.UserID,
			Date:         date,
			Type:         r.Type,
			Amount:       decimal.NewFromFloat(r.Amount).Round(2),
			Currency:     req.Currency,
			OriginalDesc: r.Description,
			Category:     DefaultCategory,
			Hash:         hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if r.Balance != nil {
			row.Balance = decimal.NullDecimal{Decimal: decimal.NewFromFloat(*r.Balance), Valid: true}
		}
		rows = append(rows, row)
	}

	var ids []uuid.UUID
	if len(rows) > 0 {
		ids, err = s.repo.InsertBatch(ctx, rows)
		if err != nil {
			return nil, apperrors.DatabaseError("inserting transactions", err)
		}
	}
	// Constraint conflicts during the insert count as duplicates too.
	skipped += len(rows) - len(ids)

	log.Info("transactions ingested",
		"inserted", len(ids), "skipped_duplicates", skipped, "total", len(req.Records))

	return &InsertResult{
		InsertedCount:     len(ids),
		SkippedDuplicates: skipped,
		IDs:               ids,
	}, nil
}

// CategorizeResult reports the outcome of one categorization pass.
type CategorizeResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// modelCategory is one element of the model's categorization response.
type modelCategory struct {
	ID             string   `json:"id"`
	Category       string   `json:"category"`
	Confidence     *float64 `json:"confidence"`
	Summary        *string  `json:"summary"`
	IsSubscription bool     `json:"is_subscription"`
}

// Categorize sends all of one statement's rows to the model in a single call
// and writes the results back row by row. A bad or missing result for a row,
// or a failed write, skips that row and moves on.
func (s *Service) Categorize(ctx context.Context, statementID uuid.UUID) (*CategorizeResult, error) {
	log := s.logger.WithField("statement_id", statementID.String())

	if s.model == nil {
		return nil, apperrors.Internal("categorization model is not configured", nil)
	}

	rows, err := s.repo.ListByStatement(ctx, statementID)
	if err != nil {
		return nil, apperrors.DatabaseError("loading statement transactions", err)
	}
	if len(rows) == 0 {
		return &CategorizeResult{}, nil
	}

	raw, err := s.model.GenerateJSON(ctx, buildCategorizePrompt(rows))
	if err != nil {
		return nil, fmt.Errorf("categorization model call: %w", err)
	}

	var results []modelCategory
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, fmt.Errorf("decoding categorization response: %w", err)
	}
	byID := make(map[uuid.UUID]modelCategory, len(results))
	for _, r := range results {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			log.Warn("categorization result has invalid id", "id", r.ID)
			continue
		}
		byID[id] = r
	}

	res := &CategorizeResult{Total: len(rows)}
	for _, row := range rows {
		mc, ok := byID[row.ID]
		if !ok || strings.TrimSpace(mc.Category) == "" {
			log.Warn("no categorization for row", "id", row.ID.String())
			res.Skipped++
			continue
		}
		cat := Categorization{
			Category:       strings.ToLower(strings.TrimSpace(mc.Category)),
			Confidence:     mc.Confidence,
			Summary:        mc.Summary,
			IsSubscription: mc.IsSubscription,
		}
		if err := s.repo.UpdateCategorization(ctx, row.ID, cat); err != nil {
			log.Warn("categorization write failed", "id", row.ID.String(), "error", err)
			res.Skipped++
			continue
		}
		res.Updated++
	}

	log.Info("statement categorized", "total", res.Total, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}
