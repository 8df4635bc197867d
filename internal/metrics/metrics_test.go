package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_WorkflowCounters(t *testing.T) {
	m := New()

	m.ObserveLogin("success")
	m.ObserveLogin("success")
	m.ObserveLogin("invalid_credentials")
	m.ObserveRegistration("duplicate")
	m.ObserveRefresh("token_not_valid")

	body := scrape(t, m)
	assert.Contains(t, body, `accounts_logins_total{outcome="success"} 2`)
	assert.Contains(t, body, `accounts_logins_total{outcome="invalid_credentials"} 1`)
	assert.Contains(t, body, `accounts_registrations_total{outcome="duplicate"} 1`)
	assert.Contains(t, body, `accounts_token_refreshes_total{outcome="token_not_valid"} 1`)
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, path := range []string{"/users/1", "/users/2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	body := scrape(t, m)
	assert.Contains(t, body, `http_requests_total{method="GET",route="/users/{id}",status="204"} 2`)
	assert.NotContains(t, body, `route="/users/1"`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveLogin("success")

	assert.NotContains(t, scrape(t, b), `accounts_logins_total{outcome="success"}`)
}
