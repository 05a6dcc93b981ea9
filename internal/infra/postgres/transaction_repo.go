package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savichev/finparse/internal/ingest"
)

// TransactionRepository implements the ingest repository using PostgreSQL
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const transactionColumns = `
	id, account_id, statement_id, profile_id, user_id,
	date, type, amount, currency, balance,
	original_description, summary, category, category_confidence, is_subscription,
	hash, created_at, updated_at
`

// ExistingHashes returns the subset of hashes already stored for the account
func (r *TransactionRepository) ExistingHashes(ctx context.Context, accountID string, hashes []string) (map[string]struct{}, error) {
	if len(hashes) == 0 {
		return map[string]struct{}{}, nil
	}

	query := `SELECT hash FROM transactions WHERE account_id = $1 AND hash = ANY($2)`

	rows, err := r.pool.Query(ctx, query, accountID, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing hashes: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan hash: %w", err)
		}
		existing[h] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hashes: %w", err)
	}

	return existing, nil
}

const insertColumnCount = 18

// insertChunkRows keeps each INSERT under PostgreSQL's 65535 bind
// parameter limit (insertChunkRows * insertColumnCount per statement).
const insertChunkRows = 3000

// InsertBatch inserts transactions in chunked statements inside one
// transaction. Hash conflicts are skipped, so only the ids of rows actually
// written come back.
func (r *TransactionRepository) InsertBatch(ctx context.Context, txs []*ingest.Transaction) ([]uuid.UUID, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	dbTx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	var ids []uuid.UUID
	for start := 0; start < len(txs); start += insertChunkRows {
		end := min(start+insertChunkRows, len(txs))
		chunkIDs, err := insertChunk(ctx, dbTx, txs[start:end])
		if err != nil {
			return nil, err
		}
		ids = append(ids, chunkIDs...)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction batch: %w", err)
	}

	return ids, nil
}

func insertChunk(ctx context.Context, dbTx pgx.Tx, txs []*ingest.Transaction) ([]uuid.UUID, error) {
	placeholders := make([]string, 0, len(txs))
	args := make([]interface{}, 0, len(txs)*insertColumnCount)
	for i, tx := range txs {
		base := i * insertColumnCount
		group := make([]string, insertColumnCount)
		for j := range group {
			group[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(group, ", ")+")")
		args = append(args,
			tx.ID, tx.AccountID, tx.StatementID, tx.ProfileID, tx.UserID,
			tx.Date, tx.Type, tx.Amount, tx.Currency, tx.Balance,
			tx.OriginalDesc, tx.Summary, tx.Category, tx.CategoryConfidence, tx.IsSubscription,
			tx.Hash, tx.CreatedAt, tx.UpdatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO transactions (%s)
		VALUES %s
		ON CONFLICT (hash) DO NOTHING
		RETURNING id
	`, transactionColumns, strings.Join(placeholders, ", "))

	rows, err := dbTx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transactions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan inserted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inserted ids: %w", err)
	}

	return ids, nil
}

// ListByStatement retrieves all transactions of a statement in date order
func (r *TransactionRepository) ListByStatement(ctx context.Context, statementID uuid.UUID) ([]*ingest.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE statement_id = $1
		ORDER BY date ASC, created_at ASC
	`, transactionColumns)

	rows, err := r.pool.Query(ctx, query, statementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*ingest.Transaction
	for rows.Next() {
		tx := &ingest.Transaction{}
		err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.StatementID, &tx.ProfileID, &tx.UserID,
			&tx.Date, &tx.Type, &tx.Amount, &tx.Currency, &tx.Balance,
			&tx.OriginalDesc, &tx.Summary, &tx.Category, &tx.CategoryConfidence, &tx.IsSubscription,
			&tx.Hash, &tx.CreatedAt, &tx.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// UpdateCategorization writes one row's categorization result
func (r *TransactionRepository) UpdateCategorization(ctx context.Context, id uuid.UUID, cat ingest.Categorization) error {
	query := `
		UPDATE transactions
		SET category = $1, category_confidence = $2, summary = $3, is_subscription = $4, updated_at = $5
		WHERE id = $6
	`

	result, err := r.pool.Exec(ctx, query,
		cat.Category,
		cat.Confidence,
		cat.Summary,
		cat.IsSubscription,
		time.Now(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update categorization: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}

	return nil
}
