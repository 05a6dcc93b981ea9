package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savichev/finparse/internal/parsercode"
	"github.com/savichev/finparse/internal/transport/httpapi/handler"
)

type fakeParserStore struct {
	banks    []*parsercode.BankInfo
	versions map[string][]*parsercode.Entry
	cleared  string
	deleted  int
	err      error
}

func (s *fakeParserStore) ListBanks(_ context.Context) ([]*parsercode.BankInfo, error) {
	return s.banks, s.err
}

func (s *fakeParserStore) ListVersions(_ context.Context, bankKey string) ([]*parsercode.Entry, error) {
	return s.versions[bankKey], s.err
}

func (s *fakeParserStore) Clear(_ context.Context, bankKey string) (int, error) {
	s.cleared = bankKey
	return s.deleted, s.err
}

func newParserRouter(store *fakeParserStore) *chi.Mux {
	h := handler.NewParserHandler(store)
	r := chi.NewRouter()
	r.Get("/parsers", h.ListParsers)
	r.Get("/parsers/{bankKey}", h.GetParserVersions)
	r.Delete("/parsers/{bankKey}", h.ClearParser)
	return r
}

func TestListParsers_Empty(t *testing.T) {
	router := newParserRouter(&fakeParserStore{})

	req := httptest.NewRequest(http.MethodGet, "/parsers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var res handler.ParserListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotNil(t, res.Banks)
	assert.Empty(t, res.Banks)
	assert.Equal(t, 0, res.Total)
}

func TestListParsers_ReturnsSummaries(t *testing.T) {
	store := &fakeParserStore{banks: []*parsercode.BankInfo{
		{BankKey: "hdfc_bank_savings", VersionCount: 3, SuccessCount: 10, FailCount: 1},
		{BankKey: "icici_bank_credit_card", VersionCount: 1},
	}}
	router := newParserRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/parsers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var res handler.ParserListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Banks, 2)
	assert.Equal(t, "hdfc_bank_savings", res.Banks[0].BankKey)
	assert.Equal(t, 3, res.Banks[0].VersionCount)
}

func TestGetParserVersions_OmitsCodeBlob(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeParserStore{versions: map[string][]*parsercode.Entry{
		"hdfc_bank_savings": {
			{
				BankKey:        "hdfc_bank_savings",
				Version:        2,
				Code:           "function parse(text) { return []; }",
				DetectedFormat: "table",
				DateFormat:     "DD/MM/YYYY",
				Confidence:     0.92,
				SuccessCount:   5,
				CreatedAt:      created,
			},
		},
	}}
	router := newParserRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/parsers/hdfc_bank_savings", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "function parse")

	var res struct {
		BankKey  string                          `json:"bankKey"`
		Versions []handler.ParserVersionResponse `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "hdfc_bank_savings", res.BankKey)
	require.Len(t, res.Versions, 1)
	assert.Equal(t, 2, res.Versions[0].Version)
	assert.Equal(t, "DD/MM/YYYY", res.Versions[0].DateFormat)
	assert.Equal(t, created.Format(time.RFC3339), res.Versions[0].CreatedAt)
}

func TestGetParserVersions_UnknownBank(t *testing.T) {
	router := newParserRouter(&fakeParserStore{versions: map[string][]*parsercode.Entry{}})

	req := httptest.NewRequest(http.MethodGet, "/parsers/unknown_bank", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearParser(t *testing.T) {
	store := &fakeParserStore{deleted: 3}
	router := newParserRouter(store)

	req := httptest.NewRequest(http.MethodDelete, "/parsers/hdfc_bank_savings", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hdfc_bank_savings", store.cleared)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "hdfc_bank_savings", res["bankKey"])
	assert.Equal(t, float64(3), res["deleted"])
}
