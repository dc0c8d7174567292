package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const pingTimeout = 5 * time.Second

type poolStatus struct {
	ConnsTotal    int32  `json:"conns_total"`
	ConnsIdle     int32  `json:"conns_idle"`
	ConnsAcquired int32  `json:"conns_acquired"`
	ConnsMax      int32  `json:"conns_max"`
	AcquireCount  int64  `json:"acquire_count"`
	AcquireWait   string `json:"acquire_wait"`
}

type healthResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   poolStatus `json:"pool"`
}

// HealthHandler reports database reachability together with a snapshot
// of the connection pool, so operators can spot exhaustion before it
// turns into failed calculations.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
		defer cancel()

		stat := pool.Stat()
		resp := healthResponse{
			Status: "healthy",
			Pool: poolStatus{
				ConnsTotal:    stat.TotalConns(),
				ConnsIdle:     stat.IdleConns(),
				ConnsAcquired: stat.AcquiredConns(),
				ConnsMax:      stat.MaxConns(),
				AcquireCount:  stat.AcquireCount(),
				AcquireWait:   stat.AcquireDuration().String(),
			},
		}

		if err := pool.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
