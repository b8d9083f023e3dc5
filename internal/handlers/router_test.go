package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNewRouterDefaultMounts(t *testing.T) {
	router := NewRouter()

	t.Run("healthz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("default not implemented group", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected status 501, got %d", rr.Code)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestNewRouterRegistrars(t *testing.T) {
	registered := map[string]bool{}
	registrar := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			registered[name] = true
			r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}
	}

	router := NewRouter(WithRoutes(Routes{
		Requests:      registrar("requests"),
		Notifications: registrar("notifications"),
		Admin:         registrar("admin"),
		Webhooks:      registrar("webhooks"),
		Internal:      registrar("internal"),
	}))

	for _, name := range []string{"requests", "notifications", "admin", "webhooks", "internal"} {
		if !registered[name] {
			t.Fatalf("expected %s registrar to run", name)
		}
	}

	paths := []string{
		"/api/v1/requests/ping",
		"/api/v1/me/notifications/ping",
		"/api/v1/admin/ping",
		"/api/v1/webhooks/ping",
		"/api/v1/internal/ping",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 on %s, got %d", path, rr.Code)
		}
	}
}

func TestNewRouterGroupMiddlewares(t *testing.T) {
	var webhookHits, internalHits int
	counter := func(hits *int) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				*hits++
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewRouter(
		WithRoutes(Routes{
			Webhooks: func(r chi.Router) {
				r.Post("/stripe", func(w http.ResponseWriter, req *http.Request) {
					w.WriteHeader(http.StatusOK)
				})
			},
			Internal: func(r chi.Router) {
				r.Post("/requests/sweep-claims", func(w http.ResponseWriter, req *http.Request) {
					w.WriteHeader(http.StatusOK)
				})
			},
		}),
		WithWebhookMiddlewares(counter(&webhookHits)),
		WithInternalMiddlewares(counter(&internalHits)),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if webhookHits != 1 {
		t.Fatalf("expected webhook middleware to run once, got %d", webhookHits)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/internal/requests/sweep-claims", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if internalHits != 1 {
		t.Fatalf("expected internal middleware to run once, got %d", internalHits)
	}
}
