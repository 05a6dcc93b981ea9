package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savichev/finparse/internal/ingest"
	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("test", io.Discard)
}

// memRepo is an in-memory Repo that enforces the hash unique constraint the
// way the database would.
type memRepo struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*ingest.Transaction
	order     []uuid.UUID
	updateErr map[uuid.UUID]error
}

func newMemRepo() *memRepo {
	return &memRepo{
		rows:      make(map[uuid.UUID]*ingest.Transaction),
		updateErr: make(map[uuid.UUID]error),
	}
}

func (r *memRepo) ExistingHashes(_ context.Context, accountID string, hashes []string) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make(map[string]struct{})
	for _, row := range r.rows {
		if row.AccountID == accountID {
			stored[row.Hash] = struct{}{}
		}
	}
	out := make(map[string]struct{})
	for _, h := range hashes {
		if _, ok := stored[h]; ok {
			out[h] = struct{}{}
		}
	}
	return out, nil
}

func (r *memRepo) InsertBatch(_ context.Context, txs []*ingest.Transaction) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, tx := range txs {
		conflict := false
		for _, row := range r.rows {
			if row.Hash == tx.Hash {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		cp := *tx
		r.rows[tx.ID] = &cp
		r.order = append(r.order, tx.ID)
		ids = append(ids, tx.ID)
	}
	return ids, nil
}

func (r *memRepo) ListByStatement(_ context.Context, statementID uuid.UUID) ([]*ingest.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ingest.Transaction
	for _, id := range r.order {
		if row := r.rows[id]; row.StatementID == statementID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateCategorization(_ context.Context, id uuid.UUID, cat ingest.Categorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.updateErr[id]; err != nil {
		return err
	}
	row, ok := r.rows[id]
	if !ok {
		return errors.New("row not found")
	}
	row.Category = cat.Category
	row.CategoryConfidence = cat.Confidence
	row.Summary = cat.Summary
	row.IsSubscription = cat.IsSubscription
	return nil
}

type fakeModel struct {
	response string
	err      error
	prompt   string
}

func (m *fakeModel) GenerateJSON(_ context.Context, prompt string) (string, error) {
	m.prompt = prompt
	return m.response, m.err
}

func sampleRecords() []record.Transaction {
	return []record.Transaction{
		{Date: "2024-01-10", Amount: 250.00, Type: record.TypeDebit, Description: "AMAZON RETAIL"},
		{Date: "2024-01-11", Amount: 50000.00, Type: record.TypeCredit, Description: "SALARY JAN"},
		{Date: "2024-01-12", Amount: 99.00, Type: record.TypeDebit, Description: "NETFLIX.COM"},
	}
}

func TestInsertStoresBatch(t *testing.T) {
	repo := newMemRepo()
	svc := ingest.NewService(repo, &fakeModel{}, testLogger())

	res, err := svc.Insert(context.Background(), ingest.InsertRequest{
		AccountID:   "acct-1",
		StatementID: uuid.New(),
		ProfileID:   uuid.New(),
		UserID:      uuid.New(),
		Currency:    "INR",
		Records:     sampleRecords(),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.InsertedCount)
	assert.Equal(t, 0, res.SkippedDuplicates)
	assert.Len(t, res.IDs, 3)

	row := repo.rows[res.IDs[0]]
	assert.Equal(t, ingest.DefaultCategory, row.Category)
	assert.Nil(t, row.Summary)
	assert.True(t, row.Amount.Equal(decimal.NewFromFloat(250.00)))
	assert.NotEmpty(t, row.Hash)
}

func TestInsertSkipsReingestedStatement(t *testing.T) {
	repo := newMemRepo()
	svc := ingest.NewService(repo, &fakeModel{}, testLogger())

	req := ingest.InsertRequest{
		AccountID:   "acct-1",
		StatementID: uuid.New(),
		Currency:    "INR",
		Records:     sampleRecords(),
	}
	first, err := svc.Insert(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, first.InsertedCount)

	second, err := svc.Insert(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.InsertedCount)
	assert.Equal(t, 3, second.SkippedDuplicates)
	assert.Len(t, repo.rows, 3)
}

func TestInsertRepeatedRowAtDifferentPositions(t *testing.T) {
	repo := newMemRepo()
	svc := ingest.NewService(repo, &fakeModel{}, testLogger())

	same := record.Transaction{
		Date: "2024-01-10", Amount: 100.00, Type: record.TypeDebit, Description: "ATM WITHDRAWAL",
	}
	res, err := svc.Insert(context.Background(), ingest.InsertRequest{
		AccountID:   "acct-1",
		StatementID: uuid.New(),
		Currency:    "INR",
		Records:     []record.Transaction{same, same},
	})
	require.NoError(t, err)

	// Same date, amount and description at two positions are two real rows.
	assert.Equal(t, 2, res.InsertedCount)
	assert.Equal(t, 0, res.SkippedDuplicates)
}

func TestDedupHashDistinguishesPosition(t *testing.T) {
	amount := decimal.NewFromFloat(100.00)
	h0 := ingest.DedupHash("acct-1", "2024-01-10", amount, "ATM WITHDRAWAL", 0)
	h1 := ingest.DedupHash("acct-1", "2024-01-10", amount, "ATM WITHDRAWAL", 1)
	assert.NotEqual(t, h0, h1)
	assert.Equal(t, h0, ingest.DedupHash("acct-1", "2024-01-10", amount, "ATM WITHDRAWAL", 0))
}

func TestInsertRejectsInvalidDate(t *testing.T) {
	svc := ingest.NewService(newMemRepo(), &fakeModel{}, testLogger())
	_, err := svc.Insert(context.Background(), ingest.InsertRequest{
		AccountID:   "acct-1",
		StatementID: uuid.New(),
		Records: []record.Transaction{
			{Date: "10/01/2024", Amount: 10, Type: record.TypeDebit, Description: "x"},
		},
	})
	require.Error(t, err)
}

func TestCategorizeWritesBack(t *testing.T) {
	repo := newMemRepo()
	model := &fakeModel{}
	svc := ingest.NewService(repo, model, testLogger())

	statementID := uuid.New()
	ins, err := svc.Insert(context.Background(), ingest.InsertRequest{
		AccountID:   "acct-1",
		StatementID: statementID,
		Currency:    "INR",
		Records:     sampleRecords(),
	})
	require.NoError(t, err)

	conf := 0.95
	summary := "Netflix subscription"
	results := []map[string]any{
		{"id": ins.IDs[0].String(), "category": "shopping", "confidence": 0.8, "summary": "Amazon order"},
		{"id": ins.IDs[1].String(), "category": "Salary", "confidence": 0.99, "summary": nil},
		{"id": ins.IDs[2].String(), "category": "entertainment", "confidence": conf, "summary": summary, "is_subscription": true},
	}
	raw, err := json.Marshal(results)
	require.NoError(t, err)
	model.response = string(raw)

	res, err := svc.Categorize(context.Background(), statementID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 0, res.Skipped)

	// Every row appears in the single prompt.
	assert.Contains(t, model.prompt, "AMAZON RETAIL")
	assert.Contains(t, model.prompt, "NETFLIX.COM")

	assert.Equal(t, "salary", repo.rows[ins.IDs[1]].Category)
	netflix := repo.rows[ins.IDs[2]]
	assert.Equal(t, "entertainment", netflix.Category)
	assert.True(t, netflix.IsSubscription)
	require.NotNil(t, netflix.Summary)
	assert.Equal(t, summary, *netflix.Summary)
}

func TestCategorizeSkipsBadRowsAndFailedWrites(t *testing.T) {
	repo := newMemRepo()
	model := &fakeModel{}
	svc := ingest.NewService(repo, model, testLogger())

	statementID := uuid.New()
	ins, err := svc.Insert(context.Background(), ingest.InsertRequest{
		AccountID:   "acct-1",
		StatementID: statementID,
		Currency:    "INR",
		Records:     sampleRecords(),
	})
	require.NoError(t, err)

	// Row 0 gets no result, row 1 fails to write, row 2 succeeds.
	repo.updateErr[ins.IDs[1]] = errors.New("connection reset")
	results := []map[string]any{
		{"id": ins.IDs[1].String(), "category": "salary"},
		{"id": ins.IDs[2].String(), "category": "entertainment"},
		{"id": "not-a-uuid", "category": "food"},
	}
	raw, err := json.Marshal(results)
	require.NoError(t, err)
	model.response = string(raw)

	res, err := svc.Categorize(context.Background(), statementID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 2, res.Skipped)

	// Skipped rows keep their defaults.
	assert.Equal(t, ingest.DefaultCategory, repo.rows[ins.IDs[0]].Category)
	assert.Equal(t, ingest.DefaultCategory, repo.rows[ins.IDs[1]].Category)
}

func TestCategorizeEmptyStatement(t *testing.T) {
	svc := ingest.NewService(newMemRepo(), &fakeModel{response: "[]"}, testLogger())
	res, err := svc.Categorize(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
}

func TestCategorizeMalformedResponse(t *testing.T) {
	repo := newMemRepo()
	model := &fakeModel{response: "not json"}
	svc := ingest.NewService(repo, model, testLogger())

	statementID := uuid.New()
	_, err := svc.Insert(context.Background(), ingest.InsertRequest{
		AccountID:   "acct-1",
		StatementID: statementID,
		Records:     sampleRecords(),
	})
	require.NoError(t, err)

	_, err = svc.Categorize(context.Background(), statementID)
	require.Error(t, err)
}
