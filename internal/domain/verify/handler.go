package verify

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cdw/cdw/internal/platform/metrics"
)

type Handler struct {
	svc *Service
	rec *metrics.Recorder
}

// NewHandler serves completion checks and counts them on rec, which may be
// nil.
func NewHandler(svc *Service, rec *metrics.Recorder) *Handler {
	return &Handler{svc: svc, rec: rec}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/pipelines/:name/verify", h.VerifyPipeline)
}

// VerifyPipeline answers 200 when the pipeline's latest upload is live and
// 503 otherwise, so it can back an uptime check.
func (h *Handler) VerifyPipeline(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pipeline name is required")
	}
	res, err := h.svc.Verify(c.Request().Context(), name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.rec.Verified(name, string(res.Status))
	if !res.OK() {
		return c.JSON(http.StatusServiceUnavailable, res)
	}
	return c.JSON(http.StatusOK, res)
}
