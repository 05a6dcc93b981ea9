package statement_test

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savichev/finparse/internal/generator"
	"github.com/savichev/finparse/internal/ingest"
	"github.com/savichev/finparse/internal/parsercode"
	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/internal/runner"
	apperrors "github.com/savichev/finparse/internal/shared/errors"
	"github.com/savichev/finparse/internal/statement"
	"github.com/savichev/finparse/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("test", io.Discard)
}

type fakeRunner struct {
	res     *runner.Result
	err     error
	bankKey string
}

func (r *fakeRunner) Run(_ context.Context, bankKey, _ string, _ record.Mode, _ *runner.ExpectedSummary) (*runner.Result, error) {
	r.bankKey = bankKey
	return r.res, r.err
}

type fakeGenerator struct {
	res    *generator.Result
	err    error
	called bool
	req    generator.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req generator.Request) (*generator.Result, error) {
	g.called = true
	g.req = req
	return g.res, g.err
}

type fakeIngestor struct {
	insertRes *ingest.InsertResult
	insertErr error
	insertReq *ingest.InsertRequest

	catRes    *ingest.CategorizeResult
	catErr    error
	catCalled bool
}

func (i *fakeIngestor) Insert(_ context.Context, req ingest.InsertRequest) (*ingest.InsertResult, error) {
	i.insertReq = &req
	return i.insertRes, i.insertErr
}

func (i *fakeIngestor) Categorize(_ context.Context, _ uuid.UUID) (*ingest.CategorizeResult, error) {
	i.catCalled = true
	return i.catRes, i.catErr
}

func codeEntry(version int) *parsercode.Entry {
	return &parsercode.Entry{BankKey: "hdfc_bank_savings", Code: "parser code", Version: version}
}

func sampleTxs() []record.Transaction {
	return []record.Transaction{
		{Date: "2024-01-10", Amount: 100, Type: record.TypeDebit, Description: "UPI payment"},
		{Date: "2024-01-11", Amount: 500, Type: record.TypeCredit, Description: "Salary"},
	}
}

func TestParseUsesCachedVersion(t *testing.T) {
	run := &fakeRunner{res: &runner.Result{
		Success:          true,
		UsedVersion:      2,
		TriedVersions:    []int{3, 2},
		ValidationPassed: true,
		Transactions:     sampleTxs(),
	}}
	gen := &fakeGenerator{}
	ing := &fakeIngestor{insertRes: &ingest.InsertResult{InsertedCount: 2, IDs: []uuid.UUID{uuid.New(), uuid.New()}}}

	svc := statement.NewService(run, gen, ing, testLogger())
	res, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "HDFC Bank",
		AccountType:   "Savings Account",
		StatementText: "statement body",
		AccountID:     "acct-1",
		Currency:      "INR",
	})
	require.NoError(t, err)

	assert.Equal(t, "hdfc_bank_savings_account", res.BankKey)
	assert.Equal(t, "hdfc_bank_savings_account", run.bankKey)
	assert.Equal(t, 2, res.UsedVersion)
	assert.Equal(t, []int{3, 2}, res.TriedVersions)
	assert.False(t, res.Generated)
	assert.True(t, res.ValidationPassed)
	assert.Equal(t, 2, res.RecordCount)

	assert.False(t, gen.called)
	require.NotNil(t, ing.insertReq)
	assert.Equal(t, res.StatementID, ing.insertReq.StatementID)
	assert.Equal(t, "acct-1", ing.insertReq.AccountID)
	assert.Equal(t, 2, res.Insert.InsertedCount)
}

func TestParseFallsBackToGeneration(t *testing.T) {
	run := &fakeRunner{
		res: &runner.Result{TriedVersions: []int{2, 1}},
		err: apperrors.ParserExhausted("all versions failed"),
	}
	gen := &fakeGenerator{res: &generator.Result{
		Entry:        codeEntry(4),
		Transactions: sampleTxs(),
		Steps:        3,
	}}
	ing := &fakeIngestor{insertRes: &ingest.InsertResult{InsertedCount: 2}}

	svc := statement.NewService(run, gen, ing, testLogger())
	res, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "HDFC Bank",
		AccountType:   "savings",
		StatementText: "statement body",
		FormatHints:   "tabular pdf text",
	})
	require.NoError(t, err)

	assert.True(t, res.Generated)
	assert.Equal(t, 4, res.UsedVersion)
	assert.Equal(t, 3, res.GenerationSteps)
	assert.Equal(t, []int{2, 1}, res.TriedVersions)
	assert.Equal(t, "tabular pdf text", gen.req.FormatHints)
	assert.Equal(t, res.BankKey, gen.req.BankKey)
}

func TestParseGeneratedOutputCheckedAgainstTotals(t *testing.T) {
	run := &fakeRunner{
		res: &runner.Result{TriedVersions: []int{}},
		err: apperrors.ParserExhausted("no cached versions"),
	}
	gen := &fakeGenerator{res: &generator.Result{
		Entry:        codeEntry(1),
		Transactions: sampleTxs(),
		Steps:        2,
	}}
	ing := &fakeIngestor{insertRes: &ingest.InsertResult{InsertedCount: 2}}

	svc := statement.NewService(run, gen, ing, testLogger())

	debits, credits := 1, 1
	totalDebits, totalCredits := 100.00, 500.00
	res, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "HDFC Bank",
		AccountType:   "savings",
		StatementText: "statement body",
		Expected: &runner.ExpectedSummary{
			DebitCount:   &debits,
			CreditCount:  &credits,
			TotalDebits:  &totalDebits,
			TotalCredits: &totalCredits,
		},
	})
	require.NoError(t, err)
	assert.True(t, res.ValidationPassed)

	// Mismatched declared totals are reported, not fatal: output is stored.
	wrongCredits := 999.00
	res, err = svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "HDFC Bank",
		AccountType:   "savings",
		StatementText: "statement body",
		Expected: &runner.ExpectedSummary{
			TotalCredits: &wrongCredits,
		},
	})
	require.NoError(t, err)
	assert.False(t, res.ValidationPassed)
	assert.NotNil(t, res.Insert)
}

func TestParseGenerationFailureIsTerminal(t *testing.T) {
	run := &fakeRunner{
		res: &runner.Result{TriedVersions: []int{1}},
		err: apperrors.ParserExhausted("all versions failed"),
	}
	gen := &fakeGenerator{err: apperrors.GenerationFailed("no attempt produced records", nil)}
	ing := &fakeIngestor{}

	svc := statement.NewService(run, gen, ing, testLogger())
	_, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "Unknown Bank",
		AccountType:   "savings",
		StatementText: "garbage",
	})
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeGenerationFailed, appErr.Code)
	assert.Nil(t, ing.insertReq)
}

func TestParseRunnerErrorOtherThanExhaustionPropagates(t *testing.T) {
	run := &fakeRunner{err: apperrors.DatabaseError("redis down", nil)}
	svc := statement.NewService(run, &fakeGenerator{}, &fakeIngestor{}, testLogger())

	_, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "HDFC Bank",
		AccountType:   "savings",
		StatementText: "statement body",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDatabaseError, apperrors.GetAppError(err).Code)
}

func TestParseHoldingsNotPersisted(t *testing.T) {
	run := &fakeRunner{res: &runner.Result{
		Success:     true,
		UsedVersion: 1,
		Holdings: []record.Holding{
			{InvestmentType: "mutual_fund", Name: "Index Fund", CurrentValue: 10000},
		},
	}}
	ing := &fakeIngestor{}

	svc := statement.NewService(run, &fakeGenerator{}, ing, testLogger())
	res, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "Zerodha",
		AccountType:   "demat",
		StatementText: "holdings statement",
		Mode:          record.ModeHolding,
	})
	require.NoError(t, err)

	assert.Len(t, res.Holdings, 1)
	assert.Nil(t, res.Insert)
	assert.Nil(t, ing.insertReq)
}

func TestParseCategorizeAfterInsert(t *testing.T) {
	run := &fakeRunner{res: &runner.Result{
		Success: true, UsedVersion: 1, Transactions: sampleTxs(),
	}}
	ing := &fakeIngestor{
		insertRes: &ingest.InsertResult{InsertedCount: 2},
		catRes:    &ingest.CategorizeResult{Total: 2, Updated: 2},
	}

	svc := statement.NewService(run, &fakeGenerator{}, ing, testLogger())
	res, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "HDFC Bank",
		AccountType:   "savings",
		StatementText: "statement body",
		Categorize:    true,
	})
	require.NoError(t, err)
	assert.True(t, ing.catCalled)
	require.NotNil(t, res.Categorization)
	assert.Equal(t, 2, res.Categorization.Updated)
}

func TestParseCategorizeFailureDoesNotVoidParse(t *testing.T) {
	run := &fakeRunner{res: &runner.Result{
		Success: true, UsedVersion: 1, Transactions: sampleTxs(),
	}}
	ing := &fakeIngestor{
		insertRes: &ingest.InsertResult{InsertedCount: 2},
		catErr:    apperrors.Internal("model unavailable", nil),
	}

	svc := statement.NewService(run, &fakeGenerator{}, ing, testLogger())
	res, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution:   "HDFC Bank",
		AccountType:   "savings",
		StatementText: "statement body",
		Categorize:    true,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Categorization)
	assert.Equal(t, 2, res.Insert.InsertedCount)
}

func TestParseRequestValidation(t *testing.T) {
	svc := statement.NewService(&fakeRunner{}, &fakeGenerator{}, &fakeIngestor{}, testLogger())

	_, err := svc.Parse(context.Background(), statement.ParseRequest{
		Institution: "HDFC Bank", AccountType: "savings",
	})
	require.Error(t, err)

	_, err = svc.Parse(context.Background(), statement.ParseRequest{
		AccountType: "savings", StatementText: "x",
	})
	require.Error(t, err)

	_, err = svc.Parse(context.Background(), statement.ParseRequest{
		Institution: "HDFC Bank", AccountType: "savings", StatementText: "x", Mode: "bogus",
	})
	require.Error(t, err)
}

func TestCategorizeStandalone(t *testing.T) {
	ing := &fakeIngestor{catRes: &ingest.CategorizeResult{Total: 5, Updated: 4, Skipped: 1}}
	svc := statement.NewService(&fakeRunner{}, &fakeGenerator{}, ing, testLogger())

	res, err := svc.Categorize(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Updated)
	assert.Equal(t, 1, res.Skipped)
}

func TestCategorizeUnknownStatementIsNotFound(t *testing.T) {
	ing := &fakeIngestor{catRes: &ingest.CategorizeResult{}}
	svc := statement.NewService(&fakeRunner{}, &fakeGenerator{}, ing, testLogger())

	_, err := svc.Categorize(context.Background(), uuid.New())
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}
