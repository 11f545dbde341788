package controllers

import (
	"context"
	"net/http"
	"time"

	"chunk-relay/backend/global"
)

type HTTPController struct{}

func NewHTTPController() *HTTPController {
	return &HTTPController{}
}

func (c *HTTPController) Livez(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz checks the results database and, when the transport is Redis, the
// Redis connection.
func (c *HTTPController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := map[string]string{}
	status := http.StatusOK

	if global.Mdb != nil {
		checks["db"] = "ok"
		sqlDB, err := global.Mdb.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			checks["db"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if global.Rdb != nil {
		checks["redis"] = "ok"
		if err := global.Rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, checks)
}
