package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"postwire/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Service:     "postwire-test",
		Server: config.ServerConfig{
			Port:               "8080",
			RequestTimeout:     5 * time.Second,
			CORSAllowedOrigins: []string{"*"},
		},
	}
}

func newMountedServer(t *testing.T, registrars ...RouteRegistrar) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	s.V1RouteRegistrars = registrars
	s.MountRoutes()
	return s
}

func TestNewServer_FailFast(t *testing.T) {
	if _, err := NewServer(nil, testLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(testConfig(), nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestMountRoutes_RegistrarsServeUnderV1(t *testing.T) {
	s := newMountedServer(t, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, APIResponse{Data: "pong"})
		})
	})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	s := newMountedServer(t)

	t.Run("generates ID when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Header().Get("X-Request-Id") == "" {
			t.Error("expected generated X-Request-Id response header")
		}
	})

	t.Run("reuses incoming ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.Header.Set("X-Request-Id", "incoming-42")
		s.Handler().ServeHTTP(w, r)

		if got := w.Header().Get("X-Request-Id"); got != "incoming-42" {
			t.Errorf("X-Request-Id = %q, want incoming-42", got)
		}
	})
}

func TestSecurityHeadersPresent(t *testing.T) {
	s := newMountedServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRecovererConvertsPanicTo500(t *testing.T) {
	s := newMountedServer(t, func(r chi.Router) {
		r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("unexpected state")
		})
	})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("panic response is not valid JSON: %v", err)
	}
	if resp.Error.Code != "internal_unexpected_error" {
		t.Errorf("code = %q, want internal_unexpected_error", resp.Error.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newMountedServer(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/v1/schedule", nil)
	r.Header.Set("Origin", "https://app.example.com")
	s.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestContextTimeoutApplied(t *testing.T) {
	s, err := NewServer(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	s.Config.Server.RequestTimeout = 50 * time.Millisecond
	s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Get("/deadline", func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); !ok {
				t.Error("expected request context to carry a deadline")
			}
			w.WriteHeader(http.StatusOK)
		})
	}}
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/deadline", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

type recordingCollector struct {
	mu    sync.Mutex
	calls int
}

func (c *recordingCollector) RecordRequest(method, endpoint, status string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func TestMetricsMiddlewareRecords(t *testing.T) {
	collector := &recordingCollector{}
	s, err := NewServer(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	s.Metrics = collector
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if collector.calls != 1 {
		t.Errorf("RecordRequest called %d times, want 1", collector.calls)
	}
}

func TestShutdownRunsHooksInOrder(t *testing.T) {
	s, err := NewServer(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	var order []string
	s.RegisterOnShutdown(func(ctx context.Context) error {
		order = append(order, "first")
		return errors.New("close failed")
	})
	s.RegisterOnShutdown(func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	err = s.Shutdown(context.Background())
	if err == nil || err.Error() != "close failed" {
		t.Errorf("Shutdown() = %v, want first hook's error", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("hooks ran as %v, want [first second]", order)
	}
}
