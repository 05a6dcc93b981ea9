package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/savichev/finparse/internal/parsercode"
)

// ParserStoreInterface defines the cache introspection operations
type ParserStoreInterface interface {
	ListBanks(ctx context.Context) ([]*parsercode.BankInfo, error)
	ListVersions(ctx context.Context, bankKey string) ([]*parsercode.Entry, error)
	Clear(ctx context.Context, bankKey string) (int, error)
}

// ParserHandler handles parser code cache HTTP requests
type ParserHandler struct {
	store ParserStoreInterface
}

// NewParserHandler creates a new parser cache handler
func NewParserHandler(store ParserStoreInterface) *ParserHandler {
	return &ParserHandler{store: store}
}

// ParserListResponse represents the cached-banks listing
type ParserListResponse struct {
	Banks []*parsercode.BankInfo `json:"banks"`
	Total int                    `json:"total"`
}

// ListParsers handles GET /parsers
func (h *ParserHandler) ListParsers(w http.ResponseWriter, r *http.Request) {
	banks, err := h.store.ListBanks(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list cached parsers")
		return
	}
	if banks == nil {
		banks = []*parsercode.BankInfo{}
	}

	respondWithJSON(w, http.StatusOK, ParserListResponse{Banks: banks, Total: len(banks)})
}

// ParserVersionResponse is one cached version without the code blob
type ParserVersionResponse struct {
	Version        int     `json:"version"`
	DetectedFormat string  `json:"detectedFormat,omitempty"`
	DateFormat     string  `json:"dateFormat,omitempty"`
	Confidence     float64 `json:"confidence"`
	SuccessCount   int     `json:"successCount"`
	FailCount      int     `json:"failCount"`
	CreatedAt      string  `json:"createdAt"`
}

// GetParserVersions handles GET /parsers/{bankKey}
func (h *ParserHandler) GetParserVersions(w http.ResponseWriter, r *http.Request) {
	bankKey := chi.URLParam(r, "bankKey")
	if bankKey == "" {
		respondWithError(w, http.StatusBadRequest, "bank key is required")
		return
	}

	entries, err := h.store.ListVersions(r.Context(), bankKey)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list parser versions")
		return
	}
	if len(entries) == 0 {
		respondWithError(w, http.StatusNotFound, "no cached parsers for bank key")
		return
	}

	versions := make([]ParserVersionResponse, len(entries))
	for i, e := range entries {
		versions[i] = ParserVersionResponse{
			Version:        e.Version,
			DetectedFormat: e.DetectedFormat,
			DateFormat:     e.DateFormat,
			Confidence:     e.Confidence,
			SuccessCount:   e.SuccessCount,
			FailCount:      e.FailCount,
			CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"bankKey":  bankKey,
		"versions": versions,
	})
}

// ClearParser handles DELETE /parsers/{bankKey}
func (h *ParserHandler) ClearParser(w http.ResponseWriter, r *http.Request) {
	bankKey := chi.URLParam(r, "bankKey")
	if bankKey == "" {
		respondWithError(w, http.StatusBadRequest, "bank key is required")
		return
	}

	deleted, err := h.store.Clear(r.Context(), bankKey)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to clear parser cache")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"bankKey": bankKey,
		"deleted": deleted,
	})
}
