package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"asyncgen/internal/events"
	"asyncgen/internal/http/handlers"
	"asyncgen/internal/jobs"
	"asyncgen/internal/middleware"
	"asyncgen/internal/providers/synthetic"
)

func newTestRouter(t *testing.T, secret string) http.Handler {
	t.Helper()
	pub := events.NewPublisher(nil)
	manager, err := jobs.NewManager(jobs.Options{Provider: synthetic.New(synthetic.Options{}), Events: pub})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	app := handlers.NewApp(manager, pub, nil, zerolog.Nop())
	return NewRouter(app, RouterOptions{
		Logger:             zerolog.Nop(),
		TokenAuth:          middleware.NewTokenAuth(secret),
		RateLimitPerMinute: 10,
	})
}

func TestRouterPublicRoutes(t *testing.T) {
	r := newTestRouter(t, "secret")
	for _, path := range []string{"/v1/healthz", "/v1/openapi.json", "/v1/docs"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		if rec.Header().Get(middleware.RequestIDHeader) == "" {
			t.Fatalf("%s: missing request id", path)
		}
	}
}

func TestRouterRequiresTokenWhenConfigured(t *testing.T) {
	r := newTestRouter(t, "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}

	ja := middleware.NewTokenAuth("secret")
	_, token, err := ja.Encode(map[string]interface{}{"sub": "tester"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"published"`) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestRouterOpenWithoutSecret(t *testing.T) {
	r := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"kind":"video"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
