package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/platform/auth"
)

type Handler struct {
	allocation.Handler
}

func NewHandler(engine *allocation.Engine) *Handler {
	return &Handler{allocation.Handler{Engine: engine, RequesterParam: "patient_id", OwnerParam: "practitioner_id"}}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse, registrar
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	readGroup.GET("/slots", h.ListUnits)
	readGroup.GET("/appointments", h.ListRecords)
	readGroup.GET("/appointments/:id", h.GetRecord)

	// Write endpoints – admin, physician, nurse, registrar
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	writeGroup.POST("/appointments", h.CreateAppointment)
	writeGroup.PATCH("/appointments/:id", h.PatchStatus)
	writeGroup.POST("/appointments/:id/cancel", h.TransitionTo(allocation.StatusCancelled))
	writeGroup.POST("/appointments/:id/complete", h.TransitionTo(allocation.StatusCompleted))
	writeGroup.POST("/appointments/:id/error", h.TransitionTo(allocation.StatusError))

	// Slot administration – admin
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/slots", h.CreateSlot)
	adminGroup.DELETE("/slots/:id", h.DeactivateUnit)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var body BookRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.Allocate(c, body.Request())
}

type createSlotRequest struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

func (h *Handler) CreateSlot(c echo.Context) error {
	var body createSlotRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Start.IsZero() || body.End.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "start and end are required")
	}
	return h.CreateUnit(c, &allocation.Unit{
		OwnerID:   body.PractitionerID,
		StartTime: &body.Start,
		EndTime:   &body.End,
	})
}
