package router

import (
	"net/http"

	"chunk-relay/backend/app/controllers"
	"chunk-relay/backend/app/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(httpCtrl *controllers.HTTPController, transferCtrl *controllers.TransferController, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)

	r.Get("/livez", httpCtrl.Livez)
	r.Get("/readyz", httpCtrl.Readyz)

	r.Get("/sessions", transferCtrl.Sessions)
	r.Get("/sessions/{id}", transferCtrl.Session)
	r.Get("/results/{sessionId}", transferCtrl.Results)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}
