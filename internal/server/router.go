package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/accessory"
	"github.com/joshp123/gohome-spotify/internal/core"
	"github.com/joshp123/gohome-spotify/internal/fader"
	"github.com/joshp123/gohome-spotify/internal/reconcile"
)

// Accessories is the registry view the API needs.
type Accessories interface {
	Accessories() []*accessory.Accessory
	Lookup(deviceID string) (*accessory.Accessory, bool)
	Tick(ctx context.Context) (reconcile.Result, error)
}

// Fades reports running volume ramps.
type Fades interface {
	Active(deviceID string) (fader.FadeState, bool)
	ActiveAll() []fader.FadeState
}

type Options struct {
	Plugins     *core.Registry
	Metrics     *prometheus.Registry
	Dashboards  map[string][]byte
	Accessories Accessories
	Fades       Fades
	Stream      *Stream
	Logger      zerolog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger.With().Str("component", "http").Logger()
	api := &api{accessories: opts.Accessories, fades: opts.Fades, plugins: opts.Plugins}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))

	r.Get("/health", api.handleHealth)
	if opts.Metrics != nil {
		r.Handle("/metrics", MetricsHandler(opts.Metrics))
	}
	if opts.Dashboards != nil {
		r.Handle("/dashboards/*", DashboardsHandler(opts.Dashboards))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plugins", api.handleListPlugins)
		r.Post("/reconcile", api.handleReconcile)
		r.Get("/fades", api.handleListFades)
		if opts.Stream != nil {
			r.Handle("/events", opts.Stream)
		}
		r.Route("/accessories", func(r chi.Router) {
			r.Get("/", api.handleListAccessories)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", api.handleGetAccessory)
				r.Put("/power", api.handleSetPower)
				r.Put("/volume", api.handleSetVolume)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "not found")
	})
	return r
}
