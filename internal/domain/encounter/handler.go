package encounter

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/auth"
	"github.com/visionai/drscreen/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	read.GET("/encounters", h.ListEncounters)
}

// ListEncounters is the dashboard: newest first, scoped to the caller.
func (h *Handler) ListEncounters(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := RequesterFromContext(ctx)
	if err != nil {
		return apperr.HTTP(err)
	}
	pg := pagination.FromContext(c)
	encs, total, err := h.svc.ListFor(ctx, r, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg))
}
