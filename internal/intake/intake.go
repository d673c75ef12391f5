// Package intake implements the out-of-core request intake shim
// (SPEC_FULL.md §4's "Request intake shim" expansion): a thin
// POST /v1/compare HTTP layer used for local manual testing; the
// end-to-end tests in internal/boot drive the pipeline without it.
// Explicitly out of spec.md's core
// scope (spec.md §1's Non-goals: "HTTP request intake and validation").
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/logger"
)

// submitter is the narrow slice of internal/boot.Service this package
// depends on, declared locally so boot need not know about intake.
type submitter interface {
	Submit(ctx context.Context, req domain.Request) (<-chan domain.Token, <-chan domain.Outcome, error)
}

// MinPromptLength and MaxPromptLength are the literal scalar-value
// length bounds named in SPEC_FULL.md's intake section.
const (
	MinPromptLength = 1
	MaxPromptLength = 8000
)

var (
	errEmptyPrompt = errors.New("intake: prompt must be 1-8000 scalar values")
	errInvalidUTF8 = errors.New("intake: prompt must be valid UTF-8")
	errNoModels    = errors.New("intake: at least one model must be supplied")
)

// compareRequest is the POST /v1/compare request body.
type compareRequest struct {
	Prompt string               `json:"prompt"`
	Models []domain.ModelChoice `json:"models"`
}

// compareResponse is returned synchronously; the caller polls
// GET /v1/compare/{request_id} for tokens, per SPEC_FULL.md's
// "no SSE optimisation" rule.
type compareResponse struct {
	RequestID string `json:"request_id"`
}

// Handler serves POST /v1/compare and GET /v1/compare/{id}, validating
// input and handing a domain.Request to the wired boot.Service.
type Handler struct {
	svc submitter
	log *logger.StyledLogger

	store *resultStore
}

func NewHandler(svc submitter, log *logger.StyledLogger) *Handler {
	return &Handler{svc: svc, log: log, store: newResultStore()}
}

// Register wires this handler's routes onto mux, matching the teacher's
// explicit-method RegisterWithMethod convention adapted to stdlib mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/compare", h.handleCompare)
	mux.HandleFunc("GET /v1/compare/{id}", h.handlePoll)
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := validatePrompt(req.Prompt); err != nil {
		h.log.Warn("rejected compare request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Models) == 0 {
		h.log.Warn("rejected compare request", "error", errNoModels)
		http.Error(w, errNoModels.Error(), http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	domainReq := domain.Request{
		RequestID: requestID,
		Prompt:    req.Prompt,
		Models:    req.Models,
		Status:    domain.RequestRunning,
	}

	tokens, outcomes, err := h.svc.Submit(r.Context(), domainReq)
	if err != nil {
		h.log.Error("compare request submission failed", "request_id", requestID, "error", err)
		var se interface{ StatusCode() int }
		if errors.As(err, &se) {
			http.Error(w, err.Error(), se.StatusCode())
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	h.store.start(requestID, tokens, outcomes)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(compareResponse{RequestID: requestID})
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := h.store.snapshot(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(snap)
}

// validatePrompt enforces the UTF-8 and 1-8000 scalar-value length cap
// named in SPEC_FULL.md's intake section.
func validatePrompt(prompt string) error {
	if !utf8.ValidString(prompt) {
		return errInvalidUTF8
	}
	n := utf8.RuneCountInString(prompt)
	if n < MinPromptLength || n > MaxPromptLength {
		return errEmptyPrompt
	}
	return nil
}
