// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openvenue/scheduler/internal/model"
	"github.com/openvenue/scheduler/internal/service"
)

var validate = validator.New()

// Handler holds all HTTP handlers for the scheduling API.
type Handler struct {
	svc *service.Service
}

// New constructs a Handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts every endpoint on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", HealthCheck)

	organizer := RequireRole("organizer", "admin")

	r.Route("/events", func(r chi.Router) {
		r.With(organizer).Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Post("/expand", h.ExpandSchedule)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetEvent)
			r.With(organizer).Patch("/", h.UpdateEvent)
			r.Get("/availability", h.GetAvailability)
			r.Post("/register", h.Register)
			r.Get("/registrations", h.ListRegistrations)
		})
	})

	r.Route("/series/{recurrenceID}", func(r chi.Router) {
		r.Get("/", h.ListSeries)
		r.Get("/calendar.ics", h.SeriesCalendar)
	})

	r.Post("/spaces/search", h.FindSpaces)

	r.Route("/registrations/{id}", func(r chi.Router) {
		r.Get("/", h.GetRegistration)
		r.Delete("/", h.CancelRegistration)
		r.With(organizer).Post("/check-in", h.CheckIn)
		r.With(organizer).Post("/no-show", h.MarkNoShow)
	})

	r.Get("/me/registrations", h.ListMyRegistrations)

	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// parseClock turns "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// writeDomainError maps service and model errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		invalidSchedule *model.InvalidScheduleError
		spaceConflict   *model.ConflictError
		alreadyReg      *model.AlreadyRegisteredError
		schedConflict   *model.ScheduleConflictError
		capExceeded     *model.CapacityExceededError
		badTransition   *model.InvalidStateTransitionError
	)
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &invalidSchedule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &spaceConflict):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: err.Error(),
			Details: map[string]any{
				"occurrence_date": spaceConflict.OccurrenceDate.Format("2006-01-02"),
				"space_id":        spaceConflict.SpaceID,
			},
		})
	case errors.As(err, &alreadyReg):
		writeError(w, http.StatusConflict, "you are already registered for this event")
	case errors.As(err, &schedConflict):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: err.Error(),
			Details: map[string]any{
				"conflicting_event_id":   schedConflict.ConflictingEventID,
				"conflicting_event_name": schedConflict.ConflictingEventName,
			},
		})
	case errors.As(err, &capExceeded):
		writeError(w, http.StatusConflict, "event is fully booked")
	case errors.As(err, &badTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrTxConflict):
		writeError(w, http.StatusServiceUnavailable, "please retry")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ─── Request payloads ─────────────────────────────────────────────────────────

type scheduleRequest struct {
	Date           string `json:"date,omitempty"`
	RecurrenceType string `json:"recurrence_type,omitempty" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	StartTime      string `json:"start_time" validate:"required"`
	EndTime        string `json:"end_time" validate:"required"`
}

func (req scheduleRequest) toSchedule() (model.Schedule, error) {
	start, err := parseClock(req.StartTime)
	if err != nil {
		return model.Schedule{}, err
	}
	end, err := parseClock(req.EndTime)
	if err != nil {
		return model.Schedule{}, err
	}

	if req.RecurrenceType == "" {
		date, err := parseDate(req.Date)
		if err != nil {
			return model.Schedule{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", req.Date)
		}
		return model.Schedule{Single: &model.SingleSchedule{
			Date:      date,
			StartTime: start,
			EndTime:   end,
		}}, nil
	}

	from, err := parseDate(req.StartDate)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("invalid start_date %q, want YYYY-MM-DD", req.StartDate)
	}
	to, err := parseDate(req.EndDate)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("invalid end_date %q, want YYYY-MM-DD", req.EndDate)
	}
	return model.Schedule{Recurring: &model.RecurringSchedule{
		RecurrenceID: uuid.New(),
		Type:         model.RecurrenceType(req.RecurrenceType),
		StartDate:    from,
		EndDate:      to,
		StartTime:    start,
		EndTime:      end,
	}}, nil
}

type createEventRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Capacity    int             `json:"capacity" validate:"min=0,max=100000"`
	SpaceID     *int64          `json:"space_id,omitempty"`
	CategoryID  *int64          `json:"category_id,omitempty"`
	ModalityID  *int64          `json:"modality_id,omitempty"`
	Schedule    scheduleRequest `json:"schedule" validate:"required"`
}

type updateEventRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Capacity    *int    `json:"capacity,omitempty" validate:"omitempty,min=0,max=100000"`
	SpaceID     *int64  `json:"space_id,omitempty"`
	ClearSpace  bool    `json:"clear_space,omitempty"`
	CategoryID  *int64  `json:"category_id,omitempty"`
	ModalityID  *int64  `json:"modality_id,omitempty"`
	Date        *string `json:"date,omitempty"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
}

func (req updateEventRequest) toPatch() (model.EventPatch, error) {
	patch := model.EventPatch{
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.Capacity,
		SpaceID:     req.SpaceID,
		ClearSpace:  req.ClearSpace,
		CategoryID:  req.CategoryID,
		ModalityID:  req.ModalityID,
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			return model.EventPatch{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", *req.Date)
		}
		patch.Date = &d
	}
	if req.StartTime != nil {
		t, err := parseClock(*req.StartTime)
		if err != nil {
			return model.EventPatch{}, err
		}
		patch.StartTime = &t
	}
	if req.EndTime != nil {
		t, err := parseClock(*req.EndTime)
		if err != nil {
			return model.EventPatch{}, err
		}
		patch.EndTime = &t
	}
	return patch, nil
}

type windowRequest struct {
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}

type findSpacesRequest struct {
	CampusID    *int64          `json:"campus_id,omitempty"`
	MinCapacity *int            `json:"min_capacity,omitempty" validate:"omitempty,min=1"`
	Windows     []windowRequest `json:"windows" validate:"dive"`
	// AllWindows requires each returned space to be free for every window;
	// otherwise a single window is checked.
	AllWindows bool `json:"all_windows,omitempty"`
}

// ─── Event handlers ───────────────────────────────────────────────────────────

// CreateEvent handles POST /events
// Creates a single event or a whole recurring series in one call.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sched, err := req.Schedule.toSchedule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.svc.CreateEvent(r.Context(), service.CreateEventInput{
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.Capacity,
		SpaceID:     req.SpaceID,
		CategoryID:  req.CategoryID,
		ModalityID:  req.ModalityID,
		Schedule:    sched,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, events)
}

// ListEvents handles GET /events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// UpdateEvent handles PATCH /events/{id}?scope=SINGLE|SERIES
// SINGLE detaches the edited fields from the series; SERIES applies the edit
// to every occurrence except fields an occurrence has already overridden.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	scope := model.UpdateScope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = model.ScopeSingle
	}
	if scope != model.ScopeSingle && scope != model.ScopeSeries {
		writeError(w, http.StatusBadRequest, "scope must be SINGLE or SERIES")
		return
	}

	var req updateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.UpdateEvent(r.Context(), id, patch, scope)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ExpandSchedule handles POST /events/expand
// Previews the occurrence dates a schedule would produce, without persisting
// anything.
func (h *Handler) ExpandSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sched, err := req.toSchedule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	occurrences, err := h.svc.ExpandRecurrence(sched)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occurrences)
}

// ListSeries handles GET /series/{recurrenceID}
func (h *Handler) ListSeries(w http.ResponseWriter, r *http.Request) {
	rid, err := uuid.Parse(chi.URLParam(r, "recurrenceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recurrence id")
		return
	}

	events, err := h.svc.ListSeries(r.Context(), rid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// SeriesCalendar handles GET /series/{recurrenceID}/calendar.ics
// Exports the series as an iCalendar document.
func (h *Handler) SeriesCalendar(w http.ResponseWriter, r *http.Request) {
	rid, err := uuid.Parse(chi.URLParam(r, "recurrenceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recurrence id")
		return
	}

	ics, err := h.svc.SeriesCalendar(r.Context(), rid)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="series.ics"`)
	_, _ = w.Write([]byte(ics))
}

// ─── Space handlers ───────────────────────────────────────────────────────────

// FindSpaces handles POST /spaces/search
// Returns spaces matching the filter that are free for the requested windows,
// smallest suitable space first.
func (h *Handler) FindSpaces(w http.ResponseWriter, r *http.Request) {
	var req findSpacesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	windows := make([]model.TimeRange, 0, len(req.Windows))
	for _, wr := range req.Windows {
		date, err := parseDate(wr.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", wr.Date))
			return
		}
		start, err := parseClock(wr.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		end, err := parseClock(wr.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if end <= start {
			writeError(w, http.StatusBadRequest, "end_time must be after start_time")
			return
		}
		windows = append(windows, model.WindowOn(date, start, end))
	}

	var query model.AvailabilityQuery
	switch {
	case req.AllWindows || len(windows) != 1:
		query = model.AllWindowsAvailability{Set: windows}
	default:
		query = model.SingleWindowAvailability{Window: windows[0]}
	}

	spaces, err := h.svc.FindAvailableSpaces(r.Context(),
		model.SpaceFilter{CampusID: req.CampusID, MinCapacity: req.MinCapacity}, query)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if spaces == nil {
		spaces = []model.Space{}
	}
	writeJSON(w, http.StatusOK, spaces)
}

// ─── Registration handlers ────────────────────────────────────────────────────

// GetAvailability handles GET /events/{id}/availability
// Anonymous callers get the capacity picture only; authenticated callers also
// learn about duplicate registrations and schedule conflicts.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	ident := IdentityFromContext(r.Context())
	snap, err := h.svc.GetRegistrationAvailability(r.Context(), id, ident.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Register handles POST /events/{id}/register
// Performs a concurrency-safe registration for the specified occurrence.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	ident := IdentityFromContext(r.Context())
	if ident.UserID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	reg, err := h.svc.Register(r.Context(), id, ident.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// GetRegistration handles GET /registrations/{id}
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration id")
		return
	}

	reg, err := h.svc.GetRegistration(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// CancelRegistration handles DELETE /registrations/{id}
// Only the owning user may cancel; a foreign registration looks like 404.
func (h *Handler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration id")
		return
	}

	ident := IdentityFromContext(r.Context())
	if ident.UserID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.svc.CancelRegistration(r.Context(), id, ident.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckIn handles POST /registrations/{id}/check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration id")
		return
	}

	if err := h.svc.CheckIn(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkNoShow handles POST /registrations/{id}/no-show
func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration id")
		return
	}

	if err := h.svc.MarkNoShow(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRegistrations handles GET /events/{id}/registrations
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	regs, err := h.svc.ListRegistrations(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// ListMyRegistrations handles GET /me/registrations
func (h *Handler) ListMyRegistrations(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFromContext(r.Context())
	if ident.UserID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	regs, err := h.svc.ListUserRegistrations(r.Context(), ident.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list registrations")
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
