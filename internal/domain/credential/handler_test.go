package credential

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/calsync/calsync/internal/platform/provider"
)

func stateCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == oauthStateCookie {
			return cookie
		}
	}
	t.Fatal("state cookie not set")
	return nil
}

func TestConnectHandler_SetsStateAndRedirects(t *testing.T) {
	svc := NewService(newMockRepo(), &mockAPI{}, testOAuth("http://unused"), "", zerolog.Nop())
	h := NewHandler(svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/scheduler/connect", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Connect(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}

	cookie := stateCookie(t, rec)
	if cookie.Value == "" || !cookie.HttpOnly {
		t.Errorf("state cookie misconfigured: %+v", cookie)
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect location: %v", err)
	}
	if location.Query().Get("state") != cookie.Value {
		t.Errorf("redirect state %q does not match cookie %q", location.Query().Get("state"), cookie.Value)
	}
}

func TestCallbackHandler_RejectsMissingState(t *testing.T) {
	svc := NewService(newMockRepo(), &mockAPI{}, testOAuth("http://unused"), "", zerolog.Nop())
	h := NewHandler(svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/scheduler/callback?code=abc&state=xyz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Callback(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a state cookie, got %v", err)
	}
}

func TestCallbackHandler_RejectsStateMismatch(t *testing.T) {
	svc := NewService(newMockRepo(), &mockAPI{}, testOAuth("http://unused"), "", zerolog.Nop())
	h := NewHandler(svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/scheduler/callback?code=abc&state=attacker", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "expected"})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Callback(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on state mismatch, got %v", err)
	}
}

func TestCallbackHandler_CompletesFlowWithMatchingState(t *testing.T) {
	srv := tokenServer(t)
	repo := newMockRepo()
	api := &mockAPI{identity: &provider.Identity{
		URI:           "https://api.example.com/users/u1",
		Email:         "doctor@example.com",
		SchedulingURL: "https://cal.example.com/doctor",
	}}
	h := NewHandler(NewService(repo, api, testOAuth(srv.URL), "", zerolog.Nop()))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/scheduler/callback?code=auth-code&state=good", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "good"})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Callback(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "doctor@example.com") {
		t.Errorf("response missing account id: %s", rec.Body.String())
	}
	if _, ok := repo.creds["doctor@example.com"]; !ok {
		t.Error("credential not persisted")
	}

	cleared := stateCookie(t, rec)
	if cleared.MaxAge != -1 {
		t.Errorf("state cookie should be cleared, got MaxAge %d", cleared.MaxAge)
	}
}
