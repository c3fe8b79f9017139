package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runHealth(t *testing.T, checks ...Check) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(checks...)(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	ok := func(context.Context) error { return nil }
	code, body := runHealth(t,
		Check{Name: "database", Ping: ok},
		Check{Name: "redis", Ping: ok, Details: func() interface{} { return "localhost:6379" }},
	)

	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	redis := checks["redis"].(map[string]interface{})
	if redis["details"] != "localhost:6379" {
		t.Errorf("expected details, got %v", redis["details"])
	}
}

func TestHealthHandler_OneFailing(t *testing.T) {
	code, body := runHealth(t,
		Check{Name: "database", Ping: func(context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	checks := body["checks"].(map[string]interface{})
	redis := checks["redis"].(map[string]interface{})
	if redis["status"] != "unhealthy" || redis["error"] != "connection refused" {
		t.Errorf("unexpected redis entry: %v", redis)
	}
	db := checks["database"].(map[string]interface{})
	if db["status"] != "healthy" {
		t.Errorf("database should stay healthy, got %v", db["status"])
	}
}

func TestPoolStats_JSON(t *testing.T) {
	stats := &PoolStats{TotalConns: 10, IdleConns: 5, MaxConns: 20, AcquireDuration: "1.5s", Healthy: true}
	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["total_conns"] != float64(10) || m["healthy"] != true {
		t.Errorf("unexpected JSON: %s", raw)
	}
}
