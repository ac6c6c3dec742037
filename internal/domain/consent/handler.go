package consent

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careforms/intake/internal/platform/auth"
	"github.com/careforms/intake/pkg/pagination"
)

type Handler struct {
	svc     *Service
	warnJob *ExpiryWarningJob
	autoJob *AutoRenewalJob
}

func NewHandler(svc *Service, warnJob *ExpiryWarningJob, autoJob *AutoRenewalJob) *Handler {
	return &Handler{svc: svc, warnJob: warnJob, autoJob: autoJob}
}

// RegisterRoutes mounts the staff-facing consent endpoints on api and the
// scheduler-facing job endpoints on jobs. The caller wires auth: api carries
// the staff JWT middleware, jobs carries the scheduler token check.
func (h *Handler) RegisterRoutes(api *echo.Group, jobs *echo.Group) {
	read := api.Group("", auth.RequireRole("staff", "provider"))
	read.GET("/consents", h.List)
	read.GET("/consents/:id/status", h.GetStatus)
	read.GET("/consents/:id/history", h.GetHistory)

	write := api.Group("", auth.RequireRole("staff", "provider"))
	write.POST("/consents/:id/renew", h.Renew)
	write.POST("/consents/:id/withdraw", h.Withdraw)

	jobs.POST("/jobs/expiry-warnings", h.RunExpiryWarnings)
	jobs.POST("/jobs/auto-renewals", h.RunAutoRenewals)
}

type statusResponse struct {
	Record *Record      `json:"record"`
	Status StatusResult `json:"status"`
}

func (h *Handler) GetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, result, err := h.svc.Status(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Record: r, Status: result})
}

type renewRequest struct {
	DurationMonths int `json:"duration_months"`
}

func (h *Handler) Renew(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req renewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	r, err := h.svc.Renew(c.Request().Context(), id, req.DurationMonths, RenewedByPatient)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}

type withdrawRequest struct {
	Reason *string `json:"reason"`
}

func (h *Handler) Withdraw(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req withdrawRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	r, err := h.svc.Withdraw(c.Request().Context(), id, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	if history == nil {
		history = []HistoryEntry{}
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RunExpiryWarnings(c echo.Context) error {
	dryRun := c.QueryParam("dry_run") == "true"
	report, err := h.warnJob.Run(c.Request().Context(), dryRun)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) RunAutoRenewals(c echo.Context) error {
	dryRun := c.QueryParam("dry_run") == "true"
	report, err := h.autoJob.Run(c.Request().Context(), dryRun)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func mapError(err error) error {
	var ve *ValidationError
	var ae *AuthorizationError
	var ce *ConfigurationError
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "consent record not found")
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Msg)
	case errors.As(err, &ae):
		return echo.NewHTTPError(http.StatusUnauthorized, ae.Msg)
	case errors.As(err, &ce):
		return echo.NewHTTPError(http.StatusServiceUnavailable, ce.Msg)
	case IsPersistence(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
