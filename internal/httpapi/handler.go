package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/queue"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/settings"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

// QueueService is the orchestrator surface the API drives.
type QueueService interface {
	IssueToken(ctx context.Context, req queue.IssueRequest) (models.Token, error)
	ApplyTransition(ctx context.Context, req queue.TransitionRequest) (queue.UpdatedState, error)
	Token(ctx context.Context, tokenID uuid.UUID) (models.Token, error)
	Position(ctx context.Context, tokenID uuid.UUID) (queue.Position, error)
	Queue(ctx context.Context, doctorID *uuid.UUID) ([]models.Token, error)
	TokenEvents(ctx context.Context, tokenID uuid.UUID) ([]store.TokenEvent, error)
	Reconcile(ctx context.Context, asOf *clock.ClinicDay) (queue.Report, error)
	Location(ctx context.Context) (*time.Location, error)
}

type SettingsService interface {
	Get(ctx context.Context) (models.ClinicSettings, error)
	Save(ctx context.Context, settings models.ClinicSettings) (models.ClinicSettings, error)
	Invalidate(ctx context.Context) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	queue    QueueService
	settings SettingsService
	health   Pinger
}

type issueTokenRequest struct {
	PatientID     string `json:"patient_id"`
	DoctorID      string `json:"doctor_id"`
	AppointmentID string `json:"appointment_id"`
}

type transitionRequest struct {
	EntityID string `json:"entity_id"`
	Action   string `json:"action"`
}

type actionsResponse struct {
	Role    queue.Role       `json:"role"`
	Kind    queue.EntityKind `json:"kind"`
	Status  string           `json:"status"`
	Actions []queue.Action   `json:"actions"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(queue QueueService, settings SettingsService, health Pinger) *Handler {
	return &Handler{queue: queue, settings: settings, health: health}
}

// RegisterRoutes mounts the API. Everything under /api/v1 requires a staff
// actor; /healthz does not.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api/v1", append(mw, Actor())...)
	api.POST("/tokens", h.IssueToken)
	api.GET("/tokens/:id", h.GetToken)
	api.GET("/tokens/:id/position", h.GetPosition)
	api.GET("/tokens/:id/events", h.GetTokenEvents)
	api.GET("/queue", h.ListQueue)
	api.POST("/transitions", h.ApplyTransition)
	api.GET("/actions", h.ListActions)
	api.POST("/reconcile", h.Reconcile)
	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.UpdateSettings)
	api.POST("/settings/invalidate", h.InvalidateSettings)
}

func (h *Handler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health.Ping(c.Request().Context()); err != nil {
			return writeError(c, http.StatusServiceUnavailable, "unavailable", "datastore unreachable")
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) IssueToken(c echo.Context) error {
	var req issueTokenRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
	}

	patientID, err := uuid.Parse(strings.TrimSpace(req.PatientID))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
	}
	doctorID, err := uuid.Parse(strings.TrimSpace(req.DoctorID))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID")
	}
	issue := queue.IssueRequest{PatientID: patientID, DoctorID: doctorID}
	if value := strings.TrimSpace(req.AppointmentID); value != "" {
		appointmentID, err := uuid.Parse(value)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID when provided")
		}
		issue.AppointmentID = &appointmentID
	}

	token, err := h.queue.IssueToken(c.Request().Context(), issue)
	if err != nil {
		return writeMappedError(c, err)
	}
	return c.JSON(http.StatusCreated, token)
}

func (h *Handler) GetToken(c echo.Context) error {
	tokenID, ok, err := pathID(c)
	if !ok {
		return err
	}
	token, err := h.queue.Token(c.Request().Context(), tokenID)
	if err != nil {
		return writeMappedError(c, err)
	}
	return c.JSON(http.StatusOK, token)
}

func (h *Handler) GetPosition(c echo.Context) error {
	tokenID, ok, err := pathID(c)
	if !ok {
		return err
	}
	position, err := h.queue.Position(c.Request().Context(), tokenID)
	if err != nil {
		return writeMappedError(c, err)
	}
	return c.JSON(http.StatusOK, position)
}

func (h *Handler) GetTokenEvents(c echo.Context) error {
	tokenID, ok, err := pathID(c)
	if !ok {
		return err
	}
	events, err := h.queue.TokenEvents(c.Request().Context(), tokenID)
	if err != nil {
		return writeMappedError(c, err)
	}
	if events == nil {
		events = []store.TokenEvent{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"token_id":  tokenID,
		"events":    events,
		"broken_at": store.VerifyTokenEvents(events),
	})
}

func (h *Handler) ListQueue(c echo.Context) error {
	var doctorID *uuid.UUID
	if value := strings.TrimSpace(c.QueryParam("doctor_id")); value != "" {
		id, err := uuid.Parse(value)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID")
		}
		doctorID = &id
	}
	tokens, err := h.queue.Queue(c.Request().Context(), doctorID)
	if err != nil {
		return writeMappedError(c, err)
	}
	return c.JSON(http.StatusOK, tokens)
}

func (h *Handler) ApplyTransition(c echo.Context) error {
	actor := actorFrom(c)
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
	}
	entityID, err := uuid.Parse(strings.TrimSpace(req.EntityID))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request", "entity_id must be a UUID")
	}
	if strings.TrimSpace(req.Action) == "" {
		return writeError(c, http.StatusBadRequest, "invalid_request", "action is required")
	}

	state, err := h.queue.ApplyTransition(c.Request().Context(), queue.TransitionRequest{
		EntityID: entityID,
		Action:   queue.Action(strings.ToLower(strings.TrimSpace(req.Action))),
		Role:     actor.Role,
		StaffID:  actor.StaffID,
	})
	if err != nil {
		return writeMappedError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

func (h *Handler) ListActions(c echo.Context) error {
	actor := actorFrom(c)
	kind := queue.EntityKind(strings.ToLower(strings.TrimSpace(c.QueryParam("kind"))))
	status := strings.TrimSpace(c.QueryParam("status"))
	if kind == "" || status == "" {
		return writeError(c, http.StatusBadRequest, "invalid_request", "kind and status are required")
	}
	actions, err := queue.ResolveActions(actor.Role, kind, status)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	}
	return c.JSON(http.StatusOK, actionsResponse{Role: actor.Role, Kind: kind, Status: status, Actions: actions})
}

func (h *Handler) Reconcile(c echo.Context) error {
	ctx := c.Request().Context()
	var asOf *clock.ClinicDay
	if value := strings.TrimSpace(c.QueryParam("as_of")); value != "" {
		loc, err := h.queue.Location(ctx)
		if err != nil {
			return writeMappedError(c, err)
		}
		day, err := clock.ParseDay(value, loc)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "invalid_request", "as_of must be YYYY-MM-DD")
		}
		asOf = &day
	}
	report, err := h.queue.Reconcile(ctx, asOf)
	if err != nil {
		return writeMappedError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) GetSettings(c echo.Context) error {
	current, err := h.settings.Get(c.Request().Context())
	if err != nil {
		return writeMappedError(c, err)
	}
	return c.JSON(http.StatusOK, current)
}

func (h *Handler) UpdateSettings(c echo.Context) error {
	var req models.ClinicSettings
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
	}
	saved, err := h.settings.Save(c.Request().Context(), req)
	if err != nil {
		return writeMappedError(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) InvalidateSettings(c echo.Context) error {
	if err := h.settings.Invalidate(c.Request().Context()); err != nil {
		return writeMappedError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// pathID parses :id. When ok is false the error response is already written
// and err is what the handler should return.
func pathID(c echo.Context) (uuid.UUID, bool, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return uuid.Nil, false, writeError(c, http.StatusBadRequest, "invalid_request", "id must be a UUID")
	}
	return id, true, nil
}

func mapError(err error) (int, string, string) {
	var (
		notFound    *queue.NotFoundError
		conflict    *queue.ConflictError
		forbidden   *queue.ForbiddenTransitionError
		persistence *queue.PersistenceError
		invalid     *queue.InvalidRequestError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "invalid_request", invalid.Reason
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found", notFound.Error()
	case errors.As(err, &forbidden):
		return http.StatusForbidden, "forbidden_transition", forbidden.Error()
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict", conflict.Reason
	case errors.Is(err, settings.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid_settings", err.Error()
	case errors.As(err, &persistence):
		return http.StatusServiceUnavailable, "persistence_error", "datastore unavailable, retry later"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeMappedError(c echo.Context, err error) error {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		c.Set("error", err)
	}
	return writeError(c, status, code, msg)
}

func writeError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorResponse{
		RequestID: requestID(c),
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

// ErrorHandler renders errors that escape handlers, such as unknown routes,
// in the same envelope as handler errors.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code, msg := http.StatusInternalServerError, "internal_error", "internal server error"
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		code = strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
		msg = strings.ToLower(http.StatusText(status))
	}
	_ = writeError(c, status, code, msg)
}
