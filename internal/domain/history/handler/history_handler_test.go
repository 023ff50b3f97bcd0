package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/settlement-tracker/internal/domain/common"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/history"
)

type stubStore struct {
	runs      []*history.Run
	run       *history.Run
	groups    []*history.RunGroup
	listErr   error
	getErr    error
	groupsErr error

	gotChannel string
	gotLimit   int
}

func (s *stubStore) SaveRun(context.Context, *history.Run, []*history.RunGroup) error {
	return nil
}

func (s *stubStore) GetRun(context.Context, uuid.UUID) (*history.Run, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.run, nil
}

func (s *stubStore) ListRuns(_ context.Context, channel string, limit int) ([]*history.Run, error) {
	s.gotChannel = channel
	s.gotLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.runs, nil
}

func (s *stubStore) ListRunGroups(context.Context, uuid.UUID) ([]*history.RunGroup, error) {
	if s.groupsErr != nil {
		return nil, s.groupsErr
	}
	return s.groups, nil
}

func newHandler(store history.RunStore) *HistoryHandler {
	return NewHistoryHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListRuns(t *testing.T) {
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	store := &stubStore{runs: []*history.Run{{
		ID: uuid.New(), Channel: "BDO", Area: "EPR", Filename: "bdo_jan.txt",
		Encoding: "utf-8", LineCount: 10, RecordCount: 9, GroupCount: 2,
		TotalCents: 123450, SubmittedAt: now, CompletedAt: now,
	}}}
	h := newHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?payment_mode=bdo&limit=5", nil)
	rr := httptest.NewRecorder()
	h.ListRuns(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "BDO", store.gotChannel)
	assert.Equal(t, 5, store.gotLimit)

	var resp struct {
		Runs []struct {
			PaymentMode string  `json:"payment_mode"`
			Filename    string  `json:"filename"`
			TotalAmount float64 `json:"total_amount"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "BDO", resp.Runs[0].PaymentMode)
	assert.Equal(t, "bdo_jan.txt", resp.Runs[0].Filename)
	assert.InDelta(t, 1234.50, resp.Runs[0].TotalAmount, 0.001)
}

func TestListRuns_Defaults(t *testing.T) {
	store := &stubStore{}
	h := newHandler(store)

	rr := httptest.NewRecorder()
	h.ListRuns(rr, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "", store.gotChannel)
	assert.Equal(t, defaultListLimit, store.gotLimit)
	assert.JSONEq(t, `{"runs":[]}`, rr.Body.String())
}

func TestListRuns_ClampsLimit(t *testing.T) {
	store := &stubStore{}
	h := newHandler(store)

	rr := httptest.NewRecorder()
	h.ListRuns(rr, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5000", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, maxListLimit, store.gotLimit)
}

func TestListRuns_BadParams(t *testing.T) {
	h := newHandler(&stubStore{})

	cases := []struct {
		name string
		url  string
	}{
		{"non-numeric limit", "/api/runs?limit=abc"},
		{"zero limit", "/api/runs?limit=0"},
		{"unknown payment mode", "/api/runs?payment_mode=GCASH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ListRuns(rr, httptest.NewRequest(http.MethodGet, tc.url, nil))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestListRuns_StoreError(t *testing.T) {
	h := newHandler(&stubStore{listErr: errors.New("connection refused")})

	rr := httptest.NewRecorder()
	h.ListRuns(rr, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Failed to load run history"}`, rr.Body.String())
}

func TestGetRun(t *testing.T) {
	id := uuid.New()
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	store := &stubStore{
		run: &history.Run{
			ID: id, Channel: "SM", Area: "PIC", Filename: "sm_feb.txt",
			Encoding: "latin-1", LineCount: 40, RecordCount: 38, GroupCount: 2,
			TotalCents: 200000, SubmittedAt: now, CompletedAt: now,
		},
		groups: []*history.RunGroup{
			{RunID: id, Reference: "5678", Count: 30, TotalCents: 150000, Dates: []string{"2025-02-01"}},
			{RunID: id, Reference: "NOREF", Count: 8, TotalCents: 50000},
		},
	}
	h := newHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+id.String(), nil)
	req.SetPathValue("id", id.String())
	rr := httptest.NewRecorder()
	h.GetRun(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Run struct {
			ID          string  `json:"id"`
			PaymentMode string  `json:"payment_mode"`
			TotalAmount float64 `json:"total_amount"`
		} `json:"run"`
		Groups []struct {
			ATMReference     string   `json:"atm_reference"`
			TransactionCount int      `json:"transaction_count"`
			TotalAmount      float64  `json:"total_amount"`
			Dates            []string `json:"dates"`
		} `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, id.String(), resp.Run.ID)
	assert.Equal(t, "SM", resp.Run.PaymentMode)
	assert.InDelta(t, 2000.0, resp.Run.TotalAmount, 0.001)
	require.Len(t, resp.Groups, 2)
	assert.Equal(t, "5678", resp.Groups[0].ATMReference)
	assert.Equal(t, 30, resp.Groups[0].TransactionCount)
	assert.Equal(t, []string{"2025-02-01"}, resp.Groups[0].Dates)
}

func TestGetRun_NotFound(t *testing.T) {
	h := newHandler(&stubStore{getErr: common.ErrNotFound})

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+id.String(), nil)
	req.SetPathValue("id", id.String())
	rr := httptest.NewRecorder()
	h.GetRun(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Run not found"}`, rr.Body.String())
}

func TestGetRun_BadID(t *testing.T) {
	h := newHandler(&stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/runs/not-a-uuid", nil)
	req.SetPathValue("id", "not-a-uuid")
	rr := httptest.NewRecorder()
	h.GetRun(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetRun_GroupsError(t *testing.T) {
	id := uuid.New()
	h := newHandler(&stubStore{
		run:       &history.Run{ID: id, Channel: "BDO", Area: "EPR"},
		groupsErr: errors.New("connection refused"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+id.String(), nil)
	req.SetPathValue("id", id.String())
	rr := httptest.NewRecorder()
	h.GetRun(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
