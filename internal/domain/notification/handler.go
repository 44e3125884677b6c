package notification

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medicare/medicare/internal/domain/patient"
	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/pkg/pagination"
)

// CareTeams resolves who must hear about a patient.
type CareTeams interface {
	CareTeam(ctx context.Context, patientID uuid.UUID) (*patient.CareTeam, error)
}

type Handler struct {
	engine *Engine
	teams  CareTeams
}

func NewHandler(engine *Engine, teams CareTeams) *Handler {
	return &Handler{engine: engine, teams: teams}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/users/:id/notifications", h.ListByUser)
	api.POST("/patients/:patient_id/emergency", h.RaiseEmergency)

	api.POST("/notifications", h.Create)
	api.POST("/notifications/appointment-reminders", h.ScheduleAppointmentReminder)
	api.GET("/notifications/stats", h.Stats)
	api.GET("/notifications/:id", h.Get)
	api.POST("/notifications/:id/read", h.MarkRead)
	api.POST("/notifications/:id/delivered", h.MarkDelivered)
	api.POST("/notifications/:id/cancel", h.Cancel)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) ListByUser(c echo.Context) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	unread, _ := strconv.ParseBool(c.QueryParam("unread"))
	pg := pagination.FromContext(c)
	items, total, err := h.engine.ListByUser(c.Request().Context(), userID, unread, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err, "user not found")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.engine.Submit(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err, "user not found")
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ScheduleAppointmentReminder(c echo.Context) error {
	var in AppointmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.engine.ScheduleAppointmentReminder(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err, "user not found")
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.engine.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) transition(c echo.Context, fn func(context.Context, uuid.UUID) (*Notification, error)) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	n, err := fn(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkRead(c echo.Context) error {
	return h.transition(c, h.engine.MarkRead)
}

// MarkDelivered is the delivery receipt callback for channels that confirm
// delivery asynchronously.
func (h *Handler) MarkDelivered(c echo.Context) error {
	return h.transition(c, h.engine.MarkDelivered)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.engine.Cancel)
}

func (h *Handler) Stats(c echo.Context) error {
	var userID *uuid.UUID
	if raw := c.QueryParam("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
		}
		userID = &id
	}
	counts, err := h.engine.Stats(c.Request().Context(), userID)
	if err != nil {
		return apperr.ToHTTP(err, "")
	}
	total := 0
	for _, v := range counts {
		total += v
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":     total,
		"by_status": counts,
	})
}

type emergencyRequest struct {
	Message string `json:"message"`
}

func (h *Handler) RaiseEmergency(c echo.Context) error {
	patientID, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	var req emergencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	team, err := h.teams.CareTeam(ctx, patientID)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	items, err := h.engine.RaiseEmergency(ctx, team, req.Message)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	return c.JSON(http.StatusCreated, items)
}
