package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cashier/internal/config"
	"github.com/ehr/cashier/internal/platform/db"
)

func devConfig() *config.Config {
	return &config.Config{
		Env:            "development",
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   50,
		RateLimitBurst: 50,
		RequestTimeout: 5 * time.Second,
		BodyLimit:      "1M",
	}
}

func TestNewLogger_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("production", &buf)
	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.HasPrefix(out, "{") {
		t.Fatalf("expected JSON output, got %q", out)
	}
	if !strings.Contains(out, `"service":"cashier"`) {
		t.Errorf("expected service field, got %q", out)
	}
}

func TestNewLogger_DevelopmentIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("development", &buf)
	logger.Info().Msg("hello")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Fatalf("expected console output, got %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestNewServer_RegistersRoutes(t *testing.T) {
	e := newServer(devConfig(), nil, zerolog.Nop())

	want := map[string]bool{
		"GET /health":                    false,
		"POST /api/v1/bills":             false,
		"GET /api/v1/bills":              false,
		"GET /api/v1/bills/:id":          false,
		"PUT /api/v1/bills/:id":          false,
		"DELETE /api/v1/bills/:id":       false,
		"POST /api/v1/bills/:id/void":    false,
		"POST /api/v1/bills/:id/unvoid":  false,
		"GET /api/v1/bills/:id/audit":    false,
		"DELETE /api/v1/bills/:id/audit": false,
		"POST /api/v1/receipt-numbers":   false,
		"GET /api/v1/receipt-settings":   false,
		"PUT /api/v1/receipt-settings":   false,
		"GET /api/v1/reports/measures":   false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestNewServer_Health(t *testing.T) {
	e := newServer(devConfig(), nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), version) {
		t.Errorf("expected version in body, got %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on response")
	}
}

func TestNewServer_RejectsMalformedBillID(t *testing.T) {
	e := newServer(devConfig(), nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/not-a-uuid/unvoid", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewServer_RequiresTokenOutsideDevelopment(t *testing.T) {
	cfg := devConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = strings.Repeat("k", 32)
	e := newServer(cfg, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_cashier.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_receipts.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "001_cashier.sql") || !strings.Contains(out, "2024-03-01 12:00:00") {
		t.Errorf("applied row missing: %s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("pending row missing: %s", out)
	}
}
