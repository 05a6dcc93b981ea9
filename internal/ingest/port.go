package ingest

import (
	"context"

	"github.com/google/uuid"
)

// Categorization is the per-row result of the categorization pass.
type Categorization struct {
	Category       string
	Confidence     *float64
	Summary        *string
	IsSubscription bool
}

// Repo is the storage contract for transactions. Inserts must rely on the
// hash unique constraint so that concurrent ingestion of the same statement
// stays duplicate-safe without locking.
type Repo interface {
	// ExistingHashes reports which of the given hashes are already stored
	// for the account.
	ExistingHashes(ctx context.Context, accountID string, hashes []string) (map[string]struct{}, error)

	// InsertBatch inserts rows, silently skipping hash conflicts, and
	// returns the ids actually inserted.
	InsertBatch(ctx context.Context, txs []*Transaction) ([]uuid.UUID, error)

	// ListByStatement returns a statement's rows in insertion order.
	ListByStatement(ctx context.Context, statementID uuid.UUID) ([]*Transaction, error)

	// UpdateCategorization writes one row's categorization result.
	UpdateCategorization(ctx context.Context, id uuid.UUID, cat Categorization) error
}

// ModelJSON is the single-shot model call used for categorization. The
// response is a JSON document ready for decoding.
type ModelJSON interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}
