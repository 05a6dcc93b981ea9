package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/savichev/finparse/internal/ingest"
	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/internal/runner"
	"github.com/savichev/finparse/internal/statement"
)

// StatementServiceInterface defines the pipeline operations the handler needs
type StatementServiceInterface interface {
	Parse(ctx context.Context, req statement.ParseRequest) (*statement.ParseResult, error)
	Categorize(ctx context.Context, statementID uuid.UUID) (*ingest.CategorizeResult, error)
}

// StatementHandler handles statement processing HTTP requests
type StatementHandler struct {
	service StatementServiceInterface
}

// NewStatementHandler creates a new statement handler
func NewStatementHandler(service StatementServiceInterface) *StatementHandler {
	return &StatementHandler{service: service}
}

// ParseStatementRequest represents the statement parse request
type ParseStatementRequest struct {
	Institution   string                  `json:"institution"`
	AccountType   string                  `json:"accountType"`
	StatementText string                  `json:"statementText"`
	Mode          string                  `json:"mode,omitempty"` // transaction (default) or holding
	FormatHints   string                  `json:"formatHints,omitempty"`
	AccountID     string                  `json:"accountId"`
	ProfileID     string                  `json:"profileId,omitempty"`
	UserID        string                  `json:"userId,omitempty"`
	Currency      string                  `json:"currency,omitempty"`
	Expected      *runner.ExpectedSummary `json:"expectedSummary,omitempty"`
	Categorize    bool                    `json:"categorize,omitempty"`
}

// ParseStatement handles POST /statements/parse
func (h *StatementHandler) ParseStatement(w http.ResponseWriter, r *http.Request) {
	var req ParseStatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := record.Mode(req.Mode)
	if req.Mode != "" && !mode.Valid() {
		respondWithError(w, http.StatusBadRequest, "mode must be transaction or holding")
		return
	}
	if mode == record.ModeTransaction || req.Mode == "" {
		if req.AccountID == "" {
			respondWithError(w, http.StatusBadRequest, "accountId is required for transaction statements")
			return
		}
	}

	profileID, err := parseOptionalUUID(req.ProfileID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid profileId")
		return
	}
	userID, err := parseOptionalUUID(req.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid userId")
		return
	}

	result, err := h.service.Parse(r.Context(), statement.ParseRequest{
		Institution:   req.Institution,
		AccountType:   req.AccountType,
		StatementText: req.StatementText,
		Mode:          mode,
		FormatHints:   req.FormatHints,
		AccountID:     req.AccountID,
		ProfileID:     profileID,
		UserID:        userID,
		Currency:      req.Currency,
		Expected:      req.Expected,
		Categorize:    req.Categorize,
	})
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// CategorizeStatement handles POST /statements/{id}/categorize
func (h *StatementHandler) CategorizeStatement(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid statement ID")
		return
	}

	result, err := h.service.Categorize(r.Context(), id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func parseOptionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}
