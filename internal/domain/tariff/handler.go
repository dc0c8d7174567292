package tariff

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/meditechbill/tariff-engine/internal/medprax"
	"github.com/meditechbill/tariff-engine/pkg/pagination"
)

// Handler exposes the calculation API over HTTP.
type Handler struct {
	svc    *Service
	search *medprax.Client
}

// NewHandler builds the handler. search may be nil when no lookup
// client is configured; the search endpoint then reports unavailable.
func NewHandler(svc *Service, search *medprax.Client) *Handler {
	return &Handler{svc: svc, search: search}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/calculate", h.Calculate)
	api.GET("/search", h.Search)
	api.GET("/calculations", h.ListCalculations)
	api.GET("/calculations/:id", h.GetCalculation)
}

// Calculate runs one claim through the engine. An empty payload is
// answered with a liveness response so monitors can probe the endpoint.
func (h *Handler) Calculate(c echo.Context) error {
	var req CalculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}

	if req.Empty() {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "tariff engine ready",
		})
	}

	output, err := h.svc.Calculate(c.Request().Context(), req)
	if err != nil {
		var noStrategy *NoStrategyError
		if errors.As(err, &noStrategy) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, noStrategy.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    output,
	})
}

// Search proxies a free-text term search to the reference APIs.
func (h *Handler) Search(c echo.Context) error {
	if h.search == nil || !h.search.Enabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reference search is not configured")
	}

	term := strings.TrimSpace(c.QueryParam("term"))
	if len(term) < 2 {
		return c.JSON(http.StatusOK, map[string]interface{}{"results": []interface{}{}})
	}

	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	switch c.QueryParam("type") {
	case "icd10":
		results, err := h.search.SearchICD10(ctx, term, pg.Limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, "reference search failed")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
	case "tariff":
		results, err := h.search.SearchTariffs(ctx, term, pg.Limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, "reference search failed")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "type must be icd10 or tariff")
	}
}

func (h *Handler) ListCalculations(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLogs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetCalculation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entry, err := h.svc.GetLog(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "calculation not found")
	}
	return c.JSON(http.StatusOK, entry)
}
