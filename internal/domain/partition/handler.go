package partition

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the read-only partition views.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/partitions", h.ListPartitions)
	api.GET("/uploads/:id/state", h.GetUploadState)
}

func (h *Handler) ListPartitions(c echo.Context) error {
	parts, err := h.svc.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if parts == nil {
		parts = []Partition{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"partitions": parts,
		"total":      len(parts),
	})
}

func (h *Handler) GetUploadState(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid upload id")
	}
	st, err := h.svc.Inspect(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"upload_id": id,
		"state":     st,
		"live":      st.Live(),
	})
}
