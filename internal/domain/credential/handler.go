package credential

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"github.com/calsync/calsync/internal/platform/auth"
	"github.com/calsync/calsync/internal/platform/provider"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the integration routes. Connect and callback are
// public: the provider redirects the browser there without our session
// token. The rest require an authenticated account.
func (h *Handler) RegisterRoutes(api *echo.Group, authMW echo.MiddlewareFunc) {
	g := api.Group("/integrations/scheduler")
	g.GET("/connect", h.Connect)
	g.GET("/callback", h.Callback)
	g.GET("/link", h.SchedulingLink, authMW, auth.RequireRole("doctor", "staff"))
	g.DELETE("/connection", h.Disconnect, authMW, auth.RequireRole("doctor", "staff"))
}

// oauthStateCookie pins the state parameter across the provider
// round-trip so Callback only accepts flows this server started.
const oauthStateCookie = "scheduler_oauth_state"

// Connect redirects the browser to the provider's consent screen.
func (h *Handler) Connect(c echo.Context) error {
	state := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/v1/integrations/scheduler",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, h.svc.AuthURL(state))
}

// Callback completes the OAuth flow with the code the provider sends back.
func (h *Handler) Callback(c echo.Context) error {
	cookie, err := c.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != c.QueryParam("state") {
		return echo.NewHTTPError(http.StatusBadRequest, "state mismatch")
	}
	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/api/v1/integrations/scheduler",
		MaxAge:   -1,
		HttpOnly: true,
	})

	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing authorization code")
	}

	cred, err := h.svc.Connect(c.Request().Context(), code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return echo.NewHTTPError(http.StatusBadRequest, "authorization code rejected")
		}
		var authErr *provider.AuthError
		var upstreamErr *provider.UpstreamError
		if errors.As(err, &authErr) || errors.As(err, &upstreamErr) {
			return echo.NewHTTPError(http.StatusBadGateway, "scheduling provider request failed")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to connect scheduling provider")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"account_id":     cred.AccountID,
		"scheduling_url": cred.SchedulingURL,
	})
}

// SchedulingLink returns the caller's public booking URL.
func (h *Handler) SchedulingLink(c echo.Context) error {
	accountID := auth.AccountFromContext(c.Request().Context())
	if accountID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no account in context")
	}

	url, err := h.svc.SchedulingLink(c.Request().Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return echo.NewHTTPError(http.StatusBadRequest, "scheduling provider is not connected")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load scheduling link")
	}

	return c.JSON(http.StatusOK, map[string]string{"scheduling_url": url})
}

// Disconnect removes the caller's stored provider credential.
func (h *Handler) Disconnect(c echo.Context) error {
	accountID := auth.AccountFromContext(c.Request().Context())
	if accountID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no account in context")
	}

	if err := h.svc.Disconnect(c.Request().Context(), accountID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to disconnect")
	}
	return c.NoContent(http.StatusNoContent)
}
