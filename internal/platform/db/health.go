package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Check is one dependency probed by HealthHandler.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
	// Details, when set, is reported alongside the check result.
	Details func() interface{}
}

// PoolCheck probes a pgx pool and reports its statistics.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{
		Name:    "database",
		Ping:    pool.Ping,
		Details: func() interface{} { return GetPoolStats(pool) },
	}
}

// HealthHandler returns a handler that pings every check and answers 503
// when any of them fails.
func HealthHandler(checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		healthy := true
		results := make(map[string]interface{}, len(checks))
		for _, chk := range checks {
			entry := map[string]interface{}{"status": "healthy"}
			if err := chk.Ping(ctx); err != nil {
				healthy = false
				entry["status"] = "unhealthy"
				entry["error"] = err.Error()
			}
			if chk.Details != nil {
				entry["details"] = chk.Details()
			}
			results[chk.Name] = entry
		}

		if !healthy {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"checks": results,
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"checks": results,
		})
	}
}
