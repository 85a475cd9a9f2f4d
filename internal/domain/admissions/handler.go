package admissions

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/platform/auth"
	"github.com/healthcore/healthcore/pkg/pagination"
)

type Handler struct {
	allocation.Handler
	wards *WardService
}

func NewHandler(engine *allocation.Engine, wards *WardService) *Handler {
	return &Handler{
		Handler: allocation.Handler{Engine: engine, RequesterParam: "patient_id", OwnerParam: "ward_id"},
		wards:   wards,
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse, registrar
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	readGroup.GET("/admissions", h.ListRecords)
	readGroup.GET("/admissions/:id", h.GetRecord)
	readGroup.GET("/wards", h.ListWards)
	readGroup.GET("/wards/:id", h.GetWard)
	readGroup.GET("/wards/:owner/beds", h.ListUnits)

	// Write endpoints – admin, physician, nurse
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	writeGroup.POST("/admissions", h.Admit)
	writeGroup.POST("/admissions/:id/discharge", h.TransitionTo(allocation.StatusCompleted))
	writeGroup.POST("/admissions/:id/cancel", h.TransitionTo(allocation.StatusCancelled))
	writeGroup.POST("/admissions/:id/error", h.TransitionTo(allocation.StatusError))

	// Ward and bed administration – admin
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/wards", h.CreateWard)
	adminGroup.POST("/wards/:owner/beds", h.CreateBed)
	adminGroup.DELETE("/beds/:id", h.DeactivateUnit)
}

func (h *Handler) Admit(c echo.Context) error {
	var body AdmitRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.Allocate(c, body.Request())
}

type createBedRequest struct {
	BedNumber string `json:"bed_number"`
}

func (h *Handler) CreateBed(c echo.Context) error {
	wardID, err := uuid.Parse(c.Param("owner"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ward id")
	}
	var body createBedRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, err := h.wards.GetWard(c.Request().Context(), wardID); err != nil {
		return allocation.HTTPError(err)
	}
	return h.CreateUnit(c, &allocation.Unit{OwnerID: wardID, Label: body.BedNumber})
}

// -- Ward Handlers --

func (h *Handler) CreateWard(c echo.Context) error {
	var w Ward
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.wards.CreateWard(c.Request().Context(), &w); err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	w, err := h.wards.GetWard(c.Request().Context(), id)
	if err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWards(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.wards.ListWards(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
