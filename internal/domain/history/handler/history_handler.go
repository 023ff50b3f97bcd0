// Package handler exposes stored run history over REST: recent runs and a
// single run's reference-group breakdown.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/settlement-tracker/internal/domain/common"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/history"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/settlement"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// HistoryHandler serves read access to persisted runs.
type HistoryHandler struct {
	store  history.RunStore
	logger *slog.Logger
}

// NewHistoryHandler constructs a handler over the run store.
func NewHistoryHandler(store history.RunStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, logger: logger}
}

// runPayload is the wire form of one stored run.
type runPayload struct {
	ID          string    `json:"id"`
	PaymentMode string    `json:"payment_mode"`
	Area        string    `json:"area"`
	Filename    string    `json:"filename"`
	Encoding    string    `json:"encoding"`
	LineCount   int       `json:"line_count"`
	RecordCount int       `json:"record_count"`
	GroupCount  int       `json:"group_count"`
	TotalAmount float64   `json:"total_amount"`
	SubmittedAt time.Time `json:"submitted_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// groupPayload is the wire form of one stored reference group.
type groupPayload struct {
	ATMReference     string   `json:"atm_reference"`
	TransactionCount int      `json:"transaction_count"`
	TotalAmount      float64  `json:"total_amount"`
	Dates            []string `json:"dates"`
}

// ListRuns returns recent stored runs, newest first. The query string may
// narrow by payment mode and bound the row count.
func (h *HistoryHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	channel, limit, err := listParams(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	runs, err := h.store.ListRuns(r.Context(), channel, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}

	payload := make([]runPayload, 0, len(runs))
	for _, run := range runs {
		payload = append(payload, toRunPayload(run))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": payload})
}

// GetRun returns one stored run with its group breakdown.
func (h *HistoryHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Run not found")
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	groups, err := h.store.ListRunGroups(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	breakdown := make([]groupPayload, 0, len(groups))
	for _, g := range groups {
		breakdown = append(breakdown, groupPayload{
			ATMReference:     g.Reference,
			TransactionCount: g.Count,
			TotalAmount:      pesos(g.TotalCents),
			Dates:            g.Dates,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"run":    toRunPayload(run),
		"groups": breakdown,
	})
}

// listParams validates the ListRuns query string. A payment mode filter is
// canonicalized before matching; limits are clamped to maxListLimit.
func listParams(r *http.Request) (channel string, limit int, err error) {
	limit = defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			return "", 0, fmt.Errorf("invalid limit %q: %w", raw, common.ErrBadRequest)
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}
	if raw := r.URL.Query().Get("payment_mode"); raw != "" {
		channel = settlement.Canonical(raw)
		if !settlement.ValidChannel(channel) {
			return "", 0, fmt.Errorf("invalid payment mode %q: %w", raw, common.ErrBadRequest)
		}
	}
	return channel, limit, nil
}

func toRunPayload(run *history.Run) runPayload {
	return runPayload{
		ID:          run.ID.String(),
		PaymentMode: run.Channel,
		Area:        run.Area,
		Filename:    run.Filename,
		Encoding:    run.Encoding,
		LineCount:   run.LineCount,
		RecordCount: run.RecordCount,
		GroupCount:  run.GroupCount,
		TotalAmount: pesos(run.TotalCents),
		SubmittedAt: run.SubmittedAt,
		CompletedAt: run.CompletedAt,
	}
}

func (h *HistoryHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrBadRequest):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Run not found")
	default:
		h.logger.Error("run history query failed", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load run history")
	}
}

func pesos(cents int64) float64 {
	return float64(cents) / 100
}

func (h *HistoryHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (h *HistoryHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
