// Package rehabhttp exposes the rehab tracker as a JSON API.
package rehabhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/turnover-ops/turnover/internal/platform/httpx"
	"github.com/turnover-ops/turnover/internal/rehab"
	"github.com/turnover-ops/turnover/internal/vacancy"
)

type rehabService interface {
	List(ctx context.Context, filter rehab.ListFilter) (rehab.Listing, error)
	Create(ctx context.Context, in rehab.CreateInput) (rehab.Record, error)
	Get(ctx context.Context, id uuid.UUID) (rehab.Record, error)
	Update(ctx context.Context, id uuid.UUID, patch rehab.Patch) (rehab.Record, error)
	Archive(ctx context.Context, id uuid.UUID) (rehab.Record, error)
	CycleChecklistItem(ctx context.Context, id uuid.UUID, item rehab.ChecklistItem) (rehab.Record, error)
	History(ctx context.Context, id uuid.UUID) ([]rehab.HistoryEntry, error)
}

// Handler wires the rehab JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   rehabService
	validator *validator.Validate
}

// NewHandler constructs a rehab HTTP handler.
func NewHandler(logger *slog.Logger, service rehabService) *Handler {
	return &Handler{logger: logger, service: service, validator: newValidator()}
}

// newValidator reports request fields by their JSON names and knows the
// rehab_status tag. Registration only fails on a malformed tag, so it panics.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("rehab_status", func(fl validator.FieldLevel) bool {
		return rehab.RehabStatus(fl.Field().String()).Valid()
	}); err != nil {
		panic(fmt.Sprintf("rehab http: register rehab_status validation: %v", err))
	}
	return v
}

// MountRoutes registers the rehab routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Patch("/", h.update)
		r.Delete("/", h.archive)
		r.Get("/history", h.history)
		r.Post("/checklist/{item}/cycle", h.cycleChecklist)
	})
}

type createRequest struct {
	Property                 string     `json:"property" validate:"required,max=120"`
	Unit                     string     `json:"unit" validate:"required,max=40"`
	Contractor               *string    `json:"contractor" validate:"omitempty,max=200"`
	GoalCompletionDate       *rehab.Day `json:"goal_completion_date"`
	PestControlNeeded        bool       `json:"pest_control_needed"`
	SurfaceRestorationNeeded bool       `json:"surface_restoration_needed"`
	JunkRemovalNeeded        bool       `json:"junk_removal_needed"`
	SourceType               *string    `json:"source_type" validate:"omitempty,oneof=vacancy notice eviction"`
	MoveOutDate              *rehab.Day `json:"move_out_date"`
	VacancyStartDate         *rehab.Day `json:"vacancy_start_date"`
	RehabStatus              *string    `json:"rehab_status" validate:"omitempty,rehab_status"`
}

func (req createRequest) input() rehab.CreateInput {
	in := rehab.CreateInput{
		Property:                 req.Property,
		Unit:                     req.Unit,
		Contractor:               req.Contractor,
		GoalCompletionDate:       dayTime(req.GoalCompletionDate),
		PestControlNeeded:        req.PestControlNeeded,
		SurfaceRestorationNeeded: req.SurfaceRestorationNeeded,
		JunkRemovalNeeded:        req.JunkRemovalNeeded,
		MoveOutDate:              dayTime(req.MoveOutDate),
		VacancyStartDate:         dayTime(req.VacancyStartDate),
	}
	if req.SourceType != nil {
		st := vacancy.SourceType(*req.SourceType)
		in.SourceType = &st
	}
	if req.RehabStatus != nil {
		rs := rehab.RehabStatus(*req.RehabStatus)
		in.RehabStatus = &rs
	}
	return in
}

type listResponse struct {
	Rehabs            []rehabView `json:"rehabs"`
	TotalActive       int         `json:"totalActive"`
	TotalPendingSetup int         `json:"totalPendingSetup"`
	TotalUnits        int         `json:"totalUnits"`
}

type rehabView struct {
	ID                 string                `json:"id"`
	Property           string                `json:"property"`
	Unit               string                `json:"unit"`
	Status             rehab.LifecycleStatus `json:"status"`
	RehabStatus        rehab.RehabStatus     `json:"rehab_status"`
	Checklist          rehab.Checklist       `json:"checklist"`
	Progress           rehab.Progress        `json:"progress"`
	VacancyStartDate   string                `json:"vacancy_start_date"`
	MoveOutDate        *string               `json:"move_out_date"`
	SourceType         vacancy.SourceType    `json:"source_type"`
	Contractor         *string               `json:"contractor"`
	GoalCompletionDate *string               `json:"goal_completion_date"`
	CompletionDate     *string               `json:"completion_date"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

type historyView struct {
	ID                 string             `json:"id"`
	RehabID            string             `json:"rehab_id"`
	Property           string             `json:"property"`
	Unit               string             `json:"unit"`
	PreviousStatus     *rehab.RehabStatus `json:"previous_status"`
	NewStatus          rehab.RehabStatus  `json:"new_status"`
	ChecklistCompleted int                `json:"checklist_completed"`
	ChecklistTotal     int                `json:"checklist_total"`
	CreatedAt          time.Time          `json:"created_at"`
}

func newRehabView(rec rehab.Record) rehabView {
	return rehabView{
		ID:                 rec.ID.String(),
		Property:           rec.Property,
		Unit:               rec.Unit,
		Status:             rec.Status,
		RehabStatus:        rec.RehabStatus,
		Checklist:          rec.Checklist,
		Progress:           rec.Progress(),
		VacancyStartDate:   rec.VacancyStartDate.Format(time.DateOnly),
		MoveOutDate:        formatDate(rec.MoveOutDate),
		SourceType:         rec.SourceType,
		Contractor:         rec.Contractor,
		GoalCompletionDate: formatDate(rec.GoalCompletionDate),
		CompletionDate:     formatDate(rec.CompletionDate),
		CompletedAt:        rec.CompletedAt,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

func newRehabViews(recs []rehab.Record) []rehabView {
	out := make([]rehabView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newRehabView(rec))
	}
	return out
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := rehab.ListFilter{Property: strings.TrimSpace(q.Get("property"))}
	if raw := strings.TrimSpace(q.Get("include_completed")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.FieldProblem(w, map[string]string{"include_completed": "must be a boolean"})
			return
		}
		filter.IncludeCompleted = include
	}
	listing, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list rehabs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Rehabs:            newRehabViews(listing.Rehabs),
		TotalActive:       listing.TotalActive,
		TotalPendingSetup: listing.TotalPendingSetup,
		TotalUnits:        listing.TotalUnits,
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldMessage(fieldErr)
			}
			httpx.FieldProblem(w, fields)
			return
		}
		h.respondError(w, "validate rehab", err)
		return
	}
	rec, err := h.service.Create(r.Context(), req.input())
	if err != nil {
		h.respondError(w, "create rehab", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newRehabView(rec))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get rehab", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRehabView(rec))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var patch rehab.Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	rec, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		h.respondError(w, "update rehab", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRehabView(rec))
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Archive(r.Context(), id); err != nil {
		h.respondError(w, "archive rehab", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cycleChecklist(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	item := rehab.ChecklistItem(chi.URLParam(r, "item"))
	rec, err := h.service.CycleChecklistItem(r.Context(), id, item)
	if err != nil {
		h.respondError(w, "cycle checklist item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRehabView(rec))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, "rehab history", err)
		return
	}
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyView{
			ID:                 e.ID.String(),
			RehabID:            e.RehabID.String(),
			Property:           e.Property,
			Unit:               e.Unit,
			PreviousStatus:     e.PreviousStatus,
			NewStatus:          e.NewStatus,
			ChecklistCompleted: e.ChecklistCompleted,
			ChecklistTotal:     e.ChecklistTotal,
			CreatedAt:          e.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": out})
}

// respondError translates rehab errors to problem responses. Unexpected
// errors are logged and reported without detail.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, rehab.ErrNotFound):
		err = fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, rehab.ErrActiveRehabExists):
		err = fmt.Errorf("%w: %w", httpx.ErrDuplicate, err)
	case errors.Is(err, rehab.ErrUnitRequired), errors.Is(err, rehab.ErrInvalidInput):
		err = fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	case errors.Is(err, rehab.ErrArchived):
		err = fmt.Errorf("%w: %w", httpx.ErrConflict, err)
	case errors.Is(err, vacancy.ErrStoreUnavailable):
		h.logger.Error(op, slog.Any("error", err))
		err = httpx.ErrUnavailable
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "rehab id must be a UUID")
		return uuid.UUID{}, false
	}
	return id, true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "rehab_status":
		return "unknown rehab status"
	default:
		return fe.Error()
	}
}

func dayTime(d *rehab.Day) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.DateOnly)
	return &s
}
