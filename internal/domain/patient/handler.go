package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medicare/medicare/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/users", h.RegisterUser)
	api.GET("/users/:id", h.GetUser)
	api.PUT("/users/:id", h.UpdateUser)

	api.POST("/patients", h.RegisterPatient)
	api.GET("/patients/:patient_id", h.GetPatient)
	api.GET("/patients/:patient_id/care-team", h.CareTeam)
	api.PUT("/patients/:patient_id/physician", h.AssignPhysician)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) RegisterUser(c echo.Context) error {
	var in UserInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.RegisterUser(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err, "user not found")
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "user not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in UserInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.UpdateUser(c.Request().Context(), id, in)
	if err != nil {
		return apperr.ToHTTP(err, "user not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.RegisterPatient(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CareTeam(c echo.Context) error {
	id, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	team, err := h.svc.CareTeam(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	return c.JSON(http.StatusOK, team)
}

func (h *Handler) AssignPhysician(c echo.Context) error {
	id, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	var body struct {
		PhysicianID *uuid.UUID `json:"physician_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.AssignPhysician(c.Request().Context(), id, body.PhysicianID)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}
