package equipment

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/platform/auth"
	"github.com/healthcore/healthcore/pkg/pagination"
)

type Handler struct {
	allocation.Handler
	inventory *InventoryService
}

func NewHandler(engine *allocation.Engine, inventory *InventoryService) *Handler {
	return &Handler{
		Handler:   allocation.Handler{Engine: engine, RequesterParam: "requester_id", OwnerParam: "equipment_id"},
		inventory: inventory,
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	readGroup.GET("/equipment", h.ListEquipment)
	readGroup.GET("/equipment/:id", h.GetEquipment)
	readGroup.GET("/equipment/:owner/windows", h.ListUnits)
	readGroup.GET("/equipment/:id/incidents", h.ListIncidents)
	readGroup.GET("/equipment-reservations", h.ListRecords)
	readGroup.GET("/equipment-reservations/:id", h.GetRecord)

	// Write endpoints – admin, physician, nurse
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	writeGroup.POST("/equipment-reservations", h.Reserve)
	writeGroup.POST("/equipment/:id/incidents", h.ReportIncident)
	writeGroup.POST("/equipment-reservations/:id/cancel", h.TransitionTo(allocation.StatusCancelled))
	writeGroup.POST("/equipment-reservations/:id/complete", h.TransitionTo(allocation.StatusCompleted))
	writeGroup.POST("/equipment-reservations/:id/error", h.TransitionTo(allocation.StatusError))

	// Inventory administration – admin
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/equipment", h.RegisterEquipment)
	adminGroup.PUT("/equipment/:id/status", h.SetStatus)
	adminGroup.POST("/equipment/:owner/windows", h.CreateWindow)
	adminGroup.DELETE("/equipment-windows/:id", h.DeactivateUnit)
}

func (h *Handler) Reserve(c echo.Context) error {
	var body ReserveRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.Allocate(c, body.Request())
}

type createWindowRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (h *Handler) CreateWindow(c echo.Context) error {
	equipmentID, err := uuid.Parse(c.Param("owner"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid equipment id")
	}
	var body createWindowRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Start.IsZero() || body.End.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "start and end are required")
	}
	if _, err := h.inventory.Get(c.Request().Context(), equipmentID); err != nil {
		return allocation.HTTPError(err)
	}
	return h.CreateUnit(c, &allocation.Unit{OwnerID: equipmentID, StartTime: &body.Start, EndTime: &body.End})
}

// -- Inventory Handlers --

func (h *Handler) RegisterEquipment(c echo.Context) error {
	var e Equipment
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.inventory.Register(c.Request().Context(), &e); err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEquipment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.inventory.Get(c.Request().Context(), id)
	if err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEquipment(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.inventory.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body statusRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.inventory.SetStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

type incidentRequest struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type incidentResponse struct {
	*Incident
	EquipmentStatus string `json:"equipment_status"`
}

func (h *Handler) ReportIncident(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body incidentRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inc, e, err := h.inventory.ReportIncident(c.Request().Context(), id, allocation.Actor(c), body.Severity, body.Description)
	if err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, incidentResponse{Incident: inc, EquipmentStatus: e.Status})
}

func (h *Handler) ListIncidents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.inventory.ListIncidents(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
