package appointment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/calsync/calsync/internal/platform/auth"
	"github.com/calsync/calsync/internal/platform/provider"
	"github.com/calsync/calsync/pkg/pagination"

	"github.com/calsync/calsync/internal/domain/credential"
)

type Handler struct {
	reconciler *Reconciler
	repo       Repository
}

func NewHandler(reconciler *Reconciler, repo Repository) *Handler {
	return &Handler{reconciler: reconciler, repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group, authMW echo.MiddlewareFunc) {
	g := api.Group("/appointments", authMW, auth.RequireRole("doctor", "staff"))
	g.GET("/sync", h.Sync)
	g.GET("", h.List)
	g.DELETE("/:id", h.Delete)

	// Provider-called, no session token.
	api.POST("/webhooks/scheduler", h.Webhook)
}

// webhookNotification is the subset of the provider's invitee webhook
// payload we act on. The owning account's email rides along in the
// event memberships.
type webhookNotification struct {
	Event   string `json:"event"`
	Payload struct {
		ScheduledEvent struct {
			EventMemberships []struct {
				UserEmail string `json:"user_email"`
			} `json:"event_memberships"`
		} `json:"scheduled_event"`
	} `json:"payload"`
}

// Webhook handles invitee notifications by running a synchronization
// pass for the affected account. Notifications we cannot attribute to
// an account are acknowledged and dropped.
func (h *Handler) Webhook(c echo.Context) error {
	var note webhookNotification
	if err := c.Bind(&note); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	accountID := ""
	if len(note.Payload.ScheduledEvent.EventMemberships) > 0 {
		accountID = note.Payload.ScheduledEvent.EventMemberships[0].UserEmail
	}
	if accountID == "" {
		return c.NoContent(http.StatusNoContent)
	}

	if _, err := h.reconciler.Synchronize(c.Request().Context(), accountID); err != nil {
		// The provider retries on 5xx; failed passes self-heal on the
		// next notification or manual sync.
		return echo.NewHTTPError(http.StatusBadGateway, "synchronization failed")
	}
	return c.NoContent(http.StatusAccepted)
}

// Sync runs a synchronization pass for the caller's account and returns
// the refreshed appointment snapshot.
func (h *Handler) Sync(c echo.Context) error {
	accountID := auth.AccountFromContext(c.Request().Context())
	if accountID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no account in context")
	}

	result, err := h.reconciler.Synchronize(c.Request().Context(), accountID)
	if err != nil {
		if errors.Is(err, credential.ErrNotConnected) {
			return echo.NewHTTPError(http.StatusBadRequest, "scheduling provider is not connected")
		}
		var authErr *provider.AuthError
		if errors.As(err, &authErr) {
			return echo.NewHTTPError(http.StatusBadGateway, "scheduling provider rejected the stored credential")
		}
		var upstreamErr *provider.UpstreamError
		if errors.As(err, &upstreamErr) {
			return echo.NewHTTPError(http.StatusBadGateway, "scheduling provider request failed")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "synchronization failed")
	}

	return c.JSON(http.StatusOK, result)
}

// List returns the caller's appointments, paged, ordered by start time.
func (h *Handler) List(c echo.Context) error {
	accountID := auth.AccountFromContext(c.Request().Context())
	if accountID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no account in context")
	}

	params := pagination.FromContext(c)
	appts, total, err := h.repo.List(c.Request().Context(), credential.NormalizeAccount(accountID), params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list appointments")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, params.Limit, params.Offset))
}

// Delete removes one appointment owned by the caller.
func (h *Handler) Delete(c echo.Context) error {
	accountID := auth.AccountFromContext(c.Request().Context())
	if accountID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no account in context")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}

	if err := h.repo.Delete(c.Request().Context(), credential.NormalizeAccount(accountID), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete appointment")
	}
	return c.NoContent(http.StatusNoContent)
}
