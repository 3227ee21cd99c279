package mockapi

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/observability"
)

// Versions lists the API versions the service accepts, oldest first.
var Versions = []string{"v1", "v2"}

//go:embed spec/*.yaml
var specs embed.FS

// Spec returns the OpenAPI document of one API version.
func Spec(version string) ([]byte, error) {
	return specs.ReadFile(path.Join("spec", "widgets-"+version+".yaml"))
}

// specCheck reports whether the document of every version is served.
func specCheck(versions []string) observability.HealthCheckFunc {
	return func(context.Context) error {
		for _, v := range versions {
			if _, err := Spec(v); err != nil {
				return fmt.Errorf("openapi document %s: %w", v, err)
			}
		}
		return nil
	}
}

// Dependencies holds everything the router needs.
type Dependencies struct {
	Store    *Store
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	// Secret enables bearer authentication of the widget routes.
	Secret []byte
	// Now overrides the clock used in responses.
	Now func() time.Time
}

// NewRouter creates the service router. Health, readiness, metrics and
// spec endpoints bypass authentication and version checks.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Store == nil {
		deps.Store = NewStore()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &handlers{store: deps.Store, versions: Versions, now: deps.Now}

	r := chi.NewRouter()
	r.Use(Recovery(deps.Logger))
	r.Use(RequestID)
	r.Use(observability.TracingMiddleware)
	r.Use(deps.Metrics.MetricsMiddleware)
	r.Use(RequestLogging(deps.Logger))

	r.Get("/healthz", observability.HandleHealth(Versions...))
	r.Get("/readyz", observability.HandleReady(map[string]observability.HealthChecker{
		"store": deps.Store,
		"specs": specCheck(Versions),
	}))
	if deps.Gatherer != nil {
		r.Handle("/metrics", observability.HandlerFor(deps.Gatherer))
	}
	r.Get("/openapi/{version}.yaml", func(w http.ResponseWriter, r *http.Request) {
		data, err := Spec(chi.URLParam(r, "version"))
		if err != nil {
			WriteError(w, http.StatusNotFound, CodeNotFound, "no such document")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(data)
	})

	r.Group(func(r chi.Router) {
		if len(deps.Secret) > 0 {
			r.Use(Authenticate(deps.Secret))
		}
		r.Use(RequireVersion(Versions...))

		r.Get("/widgets", h.listWidgets)
		r.Get("/pages/widgets", h.listWidgetsByLink)
		r.Get("/widgets/{widgetName}", h.getWidget)
		r.Put("/widgets/{widgetName}", h.createWidget)
		r.Delete("/widgets/{widgetName}", h.deleteWidget)
		r.Get("/widgets/{widgetName}/color", h.getColor)
		r.Put("/widgets/{widgetName}/color", h.putColor)
		r.Get("/widgets/{widgetName}/embedding", h.getEmbedding)
		r.Get("/widgets/{widgetName}/label", h.getLabel)
		r.Post("/widgets/{widgetName}/analyze", h.analyzeWidget)
	})

	return r
}
