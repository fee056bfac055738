package icd10

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Handler provides the REST endpoints for ICD-10-CM lookups.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

// NewHandler creates a new ICD-10 handler.
func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "icd10-handler").Logger()}
}

// RegisterRoutes registers the ICD-10 routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/icd10")
	g.POST("/search", h.Search)
	g.GET("/search", h.SearchQuery)
	g.POST("/validate", h.Validate)
}

// Search handles POST /api/v1/icd10/search.
func (h *Handler) Search(c echo.Context) error {
	var req SearchRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	maxResults := 0
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}
	return h.search(c, req.Query, maxResults)
}

// SearchQuery handles GET /api/v1/icd10/search?q=...&maxResults=...
func (h *Handler) SearchQuery(c echo.Context) error {
	maxResults := 0
	if raw := c.QueryParam("maxResults"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'maxResults' must be an integer")
		}
		maxResults = n
	}
	return h.search(c, c.QueryParam("q"), maxResults)
}

func (h *Handler) search(c echo.Context, query string, maxResults int) error {
	resp, err := h.svc.HandleSearch(c.Request().Context(), query, maxResults)
	if err != nil {
		if errors.Is(err, ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, "query is required")
		}
		h.logger.Error().Err(err).Str("query", query).Msg("icd10 search failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	return c.JSON(http.StatusOK, resp)
}

// Validate handles POST /api/v1/icd10/validate.
func (h *Handler) Validate(c echo.Context) error {
	var req ValidateRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Codes) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "codes are required")
	}
	resp, err := h.svc.ValidateCodes(c.Request().Context(), req.Codes)
	if err != nil {
		h.logger.Error().Err(err).Int("codes", len(req.Codes)).Msg("icd10 validate failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "validation failed")
	}
	return c.JSON(http.StatusOK, resp)
}

// bindJSON binds the request body into v with echo's binder. A body sent
// without Content-Type is read as JSON. Field names match
// case-insensitively. Malformed JSON and non-JSON media types become 400;
// other errors raised by the body reader, such as the size limit, pass
// through unchanged.
func bindJSON(c echo.Context, v interface{}) error {
	req := c.Request()
	if req.Header.Get(echo.HeaderContentType) == "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code != http.StatusBadRequest && he.Code != http.StatusUnsupportedMediaType {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON request body").SetInternal(err)
	}
	return nil
}
