package httpapi

import (
	stdhttp "net/http"

	"hairgen/internal/http/handlers"
	"hairgen/internal/infra"
	"hairgen/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App, logger infra.Logger, defaultLocale string, lookup middleware.CountryLookup) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP, chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.I18N(defaultLocale, lookup))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/hair", func(r chi.Router) {
		r.Post("/generate", app.Generate)
		r.Get("/schema", app.Schema)
	})

	return r
}
