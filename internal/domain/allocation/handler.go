package allocation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthcore/healthcore/internal/platform/auth"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
	"github.com/healthcore/healthcore/pkg/pagination"
)

// HTTPError maps an engine error to the API response. Unexpected errors
// become a generic 500 so store details never reach the client.
func HTTPError(err error) error {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRequesterNotFound), errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrResourceUnavailable), errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrIdempotencyKeyReused):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Handler carries the endpoints every kind shares. Kind packages embed it
// and add the allocation and unit-creation endpoints, whose bodies differ.
type Handler struct {
	Engine *Engine
	// RequesterParam and OwnerParam name the list filters, e.g.
	// "patient_id" and "practitioner_id".
	RequesterParam string
	OwnerParam     string
}

// Actor is the authenticated caller, used to stamp changes and scope
// idempotency keys.
func Actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

// Allocate runs req with the request's idempotency key and writes the
// stored response body, marking replays.
func (h *Handler) Allocate(c echo.Context, req Request) error {
	key, err := idempotency.KeyFromRequest(c)
	if err != nil {
		return err
	}
	req.IdempotencyKey = key
	req.Actor = Actor(c)
	req.Path = c.Request().Method + " " + c.Path()

	out, err := h.Engine.Allocate(c.Request().Context(), req)
	if err != nil {
		return HTTPError(err)
	}
	if out.Replayed {
		c.Response().Header().Set(idempotency.HeaderReplayed, "true")
	}
	return c.JSONBlob(out.StatusCode, out.Body)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.Engine.Get(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.Engine.Kind().View(a.Record, a.Unit))
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := RecordFilter{Limit: pg.Limit, Offset: pg.Offset}

	if v := c.QueryParam(h.RequesterParam); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+h.RequesterParam)
		}
		f.RequesterID = &id
	}
	if v := c.QueryParam(h.OwnerParam); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+h.OwnerParam)
		}
		f.OwnerID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		s, ok := h.Engine.Kind().ParseStatus(v)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = &s
	}

	items, total, err := h.Engine.List(c.Request().Context(), f)
	if err != nil {
		return HTTPError(err)
	}
	setLinks(c, pg, total)
	views := make([]any, len(items))
	for i, a := range items {
		views[i] = h.Engine.Kind().View(a.Record, a.Unit)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

// TransitionTo returns a handler moving the record in :id to status.
// Cancellation uses the already-terminal shortcut.
func (h *Handler) TransitionTo(to Status) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		var a *Allocation
		if to == StatusCancelled {
			a, err = h.Engine.Cancel(c.Request().Context(), id, Actor(c))
		} else {
			a, err = h.Engine.Transition(c.Request().Context(), id, to, Actor(c))
		}
		if err != nil {
			return HTTPError(err)
		}
		return c.JSON(http.StatusOK, h.Engine.Kind().View(a.Record, a.Unit))
	}
}

type statusPatch struct {
	Status string `json:"status"`
}

// PatchStatus accepts {"status": label} with a kind label or canonical name.
func (h *Handler) PatchStatus(c echo.Context) error {
	var body statusPatch
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, ok := h.Engine.Kind().ParseStatus(body.Status)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	return h.TransitionTo(to)(c)
}

// ListUnits lists the units of the owner named by the :owner path
// parameter or the owner query parameter.
func (h *Handler) ListUnits(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := UnitFilter{Limit: pg.Limit, Offset: pg.Offset}

	owner := c.Param("owner")
	if owner == "" {
		owner = c.QueryParam(h.OwnerParam)
	}
	if owner != "" {
		id, err := uuid.Parse(owner)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+h.OwnerParam)
		}
		f.OwnerID = id
	}
	f.AvailableOnly, _ = strconv.ParseBool(c.QueryParam("available"))
	f.IncludeInactive, _ = strconv.ParseBool(c.QueryParam("include_inactive"))

	items, total, err := h.Engine.ListUnits(c.Request().Context(), f)
	if err != nil {
		return HTTPError(err)
	}
	setLinks(c, pg, total)
	views := make([]any, len(items))
	for i, u := range items {
		views[i] = h.Engine.Kind().UnitView(u)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

// CreateUnit registers u and answers 201, or 200 when it already existed.
func (h *Handler) CreateUnit(c echo.Context, u *Unit) error {
	unit, created, err := h.Engine.CreateUnit(c.Request().Context(), u)
	if err != nil {
		return HTTPError(err)
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return c.JSON(code, h.Engine.Kind().UnitView(unit))
}

func (h *Handler) DeactivateUnit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.Engine.DeactivateUnit(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.Engine.Kind().UnitView(u))
}

func setLinks(c echo.Context, pg pagination.Params, total int) {
	if l := pg.LinkHeader(c.Request().URL.Path, total); l != "" {
		c.Response().Header().Set("Link", l)
	}
}
