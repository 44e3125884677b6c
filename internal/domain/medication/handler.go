package medication

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients/:patient_id/medications", h.Prescribe)
	api.GET("/patients/:patient_id/medications", h.ListByPatient)
	api.GET("/patients/:patient_id/adherence", h.AdherenceSummary)

	api.GET("/medications/:id", h.Get)
	api.GET("/medications/:id/interactions", h.Interactions)
	api.POST("/medications/:id/doses", h.RecordDoseTaken)
	api.POST("/medications/:id/missed-doses", h.RecordMissedDose)
	api.POST("/medications/:id/refills", h.AddRefill)
	api.POST("/medications/:id/discontinue", h.Discontinue)
	api.PUT("/medications/:id/status", h.ChangeStatus)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) Prescribe(c echo.Context) error {
	patientID, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Prescribe(c.Request().Context(), patientID, in)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) AdherenceSummary(c echo.Context) error {
	patientID, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	s, err := h.svc.AdherenceSummary(c.Request().Context(), patientID)
	if err != nil {
		return apperr.ToHTTP(err, "patient not found")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Interactions(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	found, err := h.svc.Interactions(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "medication not found")
	}
	if found == nil {
		found = []Interaction{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"interactions": found})
}

func (h *Handler) RecordDoseTaken(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.RecordDoseTaken(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) RecordMissedDose(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.RecordMissedDose(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err, "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) AddRefill(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in RefillInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.AddRefill(c.Request().Context(), id, in)
	if err != nil {
		return apperr.ToHTTP(err, "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Discontinue(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Discontinue(c.Request().Context(), id, body.Reason)
	if err != nil {
		return apperr.ToHTTP(err, "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.ChangeStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return apperr.ToHTTP(err, "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}
