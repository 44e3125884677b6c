package orchestrator

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes manual step runs for operators.
type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/jobs", h.List)
	api.POST("/jobs/:name/run", h.Run)
}

func (h *Handler) List(c echo.Context) error {
	sched := DefaultSchedule()
	type job struct {
		Name     string `json:"name"`
		Interval string `json:"default_interval"`
	}
	out := make([]job, 0, len(sched))
	for _, name := range Steps() {
		out = append(out, job{Name: name, Interval: sched[name].String()})
	}
	return c.JSON(http.StatusOK, out)
}

// Run executes one step, or every batch step when name is "all".
func (h *Handler) Run(c echo.Context) error {
	name := c.Param("name")
	ctx := c.Request().Context()
	if name == "all" {
		return c.JSON(http.StatusOK, h.orch.RunAll(ctx))
	}
	if _, ok := h.orch.step(name); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job "+name)
	}
	rep, err := h.orch.Run(ctx, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "job "+name+" failed")
	}
	return c.JSON(http.StatusOK, rep)
}
