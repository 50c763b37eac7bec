package rehabhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnover-ops/turnover/internal/rehab"
	"github.com/turnover-ops/turnover/internal/vacancy"
)

type stubService struct {
	listFn    func(ctx context.Context, filter rehab.ListFilter) (rehab.Listing, error)
	createFn  func(ctx context.Context, in rehab.CreateInput) (rehab.Record, error)
	getFn     func(ctx context.Context, id uuid.UUID) (rehab.Record, error)
	updateFn  func(ctx context.Context, id uuid.UUID, patch rehab.Patch) (rehab.Record, error)
	archiveFn func(ctx context.Context, id uuid.UUID) (rehab.Record, error)
	cycleFn   func(ctx context.Context, id uuid.UUID, item rehab.ChecklistItem) (rehab.Record, error)
	historyFn func(ctx context.Context, id uuid.UUID) ([]rehab.HistoryEntry, error)
}

func (s *stubService) List(ctx context.Context, filter rehab.ListFilter) (rehab.Listing, error) {
	return s.listFn(ctx, filter)
}

func (s *stubService) Create(ctx context.Context, in rehab.CreateInput) (rehab.Record, error) {
	return s.createFn(ctx, in)
}

func (s *stubService) Get(ctx context.Context, id uuid.UUID) (rehab.Record, error) {
	return s.getFn(ctx, id)
}

func (s *stubService) Update(ctx context.Context, id uuid.UUID, patch rehab.Patch) (rehab.Record, error) {
	return s.updateFn(ctx, id, patch)
}

func (s *stubService) Archive(ctx context.Context, id uuid.UUID) (rehab.Record, error) {
	return s.archiveFn(ctx, id)
}

func (s *stubService) CycleChecklistItem(ctx context.Context, id uuid.UUID, item rehab.ChecklistItem) (rehab.Record, error) {
	return s.cycleFn(ctx, id, item)
}

func (s *stubService) History(ctx context.Context, id uuid.UUID) ([]rehab.HistoryEntry, error) {
	return s.historyFn(ctx, id)
}

func newTestRouter(svc rehabService) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/api/rehabs", h.MountRoutes)
	return r
}

func sampleRecord() rehab.Record {
	goal := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	rec := rehab.Record{
		ID:                 uuid.MustParse("6f1c2b4e-4a53-4a4d-9a0e-0d3c1f7a9b10"),
		Property:           "Oak",
		Unit:               "101",
		Status:             rehab.StatusInProgress,
		RehabStatus:        rehab.RehabNotStarted,
		VacancyStartDate:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		SourceType:         vacancy.SourceVacancy,
		GoalCompletionDate: &goal,
		CreatedAt:          time.Date(2024, 1, 5, 7, 0, 0, 0, time.UTC),
		UpdatedAt:          time.Date(2024, 1, 5, 7, 0, 0, 0, time.UTC),
	}
	rec.Checklist.Set(rehab.ItemPestControl, rehab.ItemState{Excluded: true})
	return rec
}

func TestListReturnsRehabsAndTotals(t *testing.T) {
	var captured rehab.ListFilter
	svc := &stubService{
		listFn: func(ctx context.Context, filter rehab.ListFilter) (rehab.Listing, error) {
			captured = filter
			return rehab.Listing{Rehabs: []rehab.Record{sampleRecord()}, TotalActive: 1, TotalPendingSetup: 1, TotalUnits: 40}, nil
		},
	}
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rehabs?property=Oak&include_completed=true", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, rehab.ListFilter{Property: "Oak", IncludeCompleted: true}, captured)

	var body struct {
		Rehabs []struct {
			ID                 string          `json:"id"`
			VacancyStartDate   string          `json:"vacancy_start_date"`
			GoalCompletionDate *string         `json:"goal_completion_date"`
			Progress           rehab.Progress  `json:"progress"`
			Checklist          rehab.Checklist `json:"checklist"`
		} `json:"rehabs"`
		TotalActive       int `json:"totalActive"`
		TotalPendingSetup int `json:"totalPendingSetup"`
		TotalUnits        int `json:"totalUnits"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rehabs, 1)
	assert.Equal(t, "2024-01-05", body.Rehabs[0].VacancyStartDate)
	require.NotNil(t, body.Rehabs[0].GoalCompletionDate)
	assert.Equal(t, "2024-02-15", *body.Rehabs[0].GoalCompletionDate)
	assert.Equal(t, rehab.Progress{Completed: 0, Total: 7, Percent: 0}, body.Rehabs[0].Progress)
	assert.True(t, body.Rehabs[0].Checklist.Get(rehab.ItemPestControl).Excluded)
	assert.Equal(t, 1, body.TotalActive)
	assert.Equal(t, 1, body.TotalPendingSetup)
	assert.Equal(t, 40, body.TotalUnits)
}

func TestListRejectsBadIncludeCompleted(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(&stubService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rehabs?include_completed=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "include_completed")
}

func TestListStoreUnavailable(t *testing.T) {
	svc := &stubService{
		listFn: func(ctx context.Context, filter rehab.ListFilter) (rehab.Listing, error) {
			return rehab.Listing{}, errors.Join(vacancy.ErrStoreUnavailable, errors.New("dial tcp"))
		},
	}
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rehabs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestCreateMapsRequest(t *testing.T) {
	var captured rehab.CreateInput
	svc := &stubService{
		createFn: func(ctx context.Context, in rehab.CreateInput) (rehab.Record, error) {
			captured = in
			return sampleRecord(), nil
		},
	}
	payload := `{"property":"Oak","unit":"101","contractor":"Acme","goal_completion_date":"2024-02-15",
		"pest_control_needed":true,"source_type":"notice","rehab_status":"Waiting"}`
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rehabs", strings.NewReader(payload)))

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "Oak", captured.Property)
	assert.True(t, captured.PestControlNeeded)
	assert.False(t, captured.JunkRemovalNeeded)
	require.NotNil(t, captured.GoalCompletionDate)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), *captured.GoalCompletionDate)
	require.NotNil(t, captured.SourceType)
	assert.Equal(t, vacancy.SourceNotice, *captured.SourceType)
	require.NotNil(t, captured.RehabStatus)
	assert.Equal(t, rehab.RehabWaiting, *captured.RehabStatus)
	assert.Nil(t, captured.VacancyStartDate)
}

func TestCreateValidationProblems(t *testing.T) {
	router := newTestRouter(&stubService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rehabs", strings.NewReader(`{"property":"Oak","rehab_status":"Painting"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var problem struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "is required", problem.Fields["unit"])
	assert.Equal(t, "unknown rehab status", problem.Fields["rehab_status"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rehabs", strings.NewReader(`{"property":"Oak","unit":"1","colour":"red"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rehabs", strings.NewReader(`{"property":"Oak","unit":"1","move_out_date":"01/02/2024"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateDuplicateActiveRehab(t *testing.T) {
	svc := &stubService{
		createFn: func(ctx context.Context, in rehab.CreateInput) (rehab.Record, error) {
			return rehab.Record{}, rehab.ErrActiveRehabExists
		},
	}
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rehabs", strings.NewReader(`{"property":"Oak","unit":"101"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "active rehab already exists")
}

func TestUpdateDecodesPatch(t *testing.T) {
	rec := sampleRecord()
	var captured rehab.Patch
	svc := &stubService{
		updateFn: func(ctx context.Context, id uuid.UUID, patch rehab.Patch) (rehab.Record, error) {
			assert.Equal(t, rec.ID, id)
			captured = patch
			return rec, nil
		},
	}
	payload := `{"rehab_status":"Complete","contractor":null,"checklist":{"cleaned":{"completed":true}}}`
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/api/rehabs/"+rec.ID.String(), strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, captured.RehabStatus)
	assert.Equal(t, rehab.RehabComplete, *captured.RehabStatus)
	assert.True(t, captured.Contractor.Set)
	assert.Nil(t, captured.Contractor.Value)
	assert.False(t, captured.CompletionDate.Set)
	require.Contains(t, captured.Checklist, rehab.ItemCleaned)
	assert.True(t, *captured.Checklist[rehab.ItemCleaned].Completed)
}

func TestUpdateErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", rehab.ErrNotFound, http.StatusNotFound},
		{"archived", rehab.ErrArchived, http.StatusConflict},
		{"invalid", rehab.ErrInvalidInput, http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				updateFn: func(ctx context.Context, id uuid.UUID, patch rehab.Patch) (rehab.Record, error) {
					return rehab.Record{}, tt.err
				},
			}
			rr := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/api/rehabs/"+uuid.NewString(), strings.NewReader(`{}`)))
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestInvalidIDRejected(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(&stubService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/rehabs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestArchiveReturnsNoContent(t *testing.T) {
	id := uuid.New()
	svc := &stubService{
		archiveFn: func(ctx context.Context, got uuid.UUID) (rehab.Record, error) {
			assert.Equal(t, id, got)
			return rehab.Record{ID: id, Status: rehab.StatusArchived}, nil
		},
	}
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/rehabs/"+id.String(), nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestCycleChecklistPassesItem(t *testing.T) {
	rec := sampleRecord()
	var item rehab.ChecklistItem
	svc := &stubService{
		cycleFn: func(ctx context.Context, id uuid.UUID, got rehab.ChecklistItem) (rehab.Record, error) {
			item = got
			return rec, nil
		},
	}
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rehabs/"+rec.ID.String()+"/checklist/tenant_key/cycle", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, rehab.ItemTenantKey, item)
}

func TestHistoryListsEntries(t *testing.T) {
	rec := sampleRecord()
	prev := rehab.RehabNotStarted
	svc := &stubService{
		historyFn: func(ctx context.Context, id uuid.UUID) ([]rehab.HistoryEntry, error) {
			return []rehab.HistoryEntry{
				{ID: uuid.New(), RehabID: id, PreviousStatus: &prev, NewStatus: rehab.RehabWaiting, ChecklistCompleted: 2, ChecklistTotal: 7},
				{ID: uuid.New(), RehabID: id, NewStatus: rehab.RehabNotStarted, ChecklistTotal: 4},
			}, nil
		},
	}
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rehabs/"+rec.ID.String()+"/history", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		History []historyView `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.History, 2)
	assert.Equal(t, rehab.RehabWaiting, body.History[0].NewStatus)
	assert.Nil(t, body.History[1].PreviousStatus)
	assert.Equal(t, rec.ID.String(), body.History[0].RehabID)
}

func TestNewValidatorKnowsRehabStatus(t *testing.T) {
	var v *validator.Validate
	require.NotPanics(t, func() { v = newValidator() })

	waiting, bogus := "Waiting", "Painting"
	ok := createRequest{Property: "Oak", Unit: "101", RehabStatus: &waiting}
	assert.NoError(t, v.Struct(ok))

	bad := createRequest{Property: "Oak", Unit: "101", RehabStatus: &bogus}
	var verrs validator.ValidationErrors
	require.ErrorAs(t, v.Struct(bad), &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "rehab_status", verrs[0].Field())
	assert.Equal(t, "rehab_status", verrs[0].Tag())
}
