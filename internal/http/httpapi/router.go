package httpapi

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"photojobs/internal/http/handlers"
	"photojobs/internal/middleware"
)

// Options carries what the router needs besides the handlers.
type Options struct {
	Limiter        middleware.Limiter
	CountryLookup  middleware.CountryLookup
	StaticDir      string
	// TrustedProxies may report the client address in forwarding headers.
	TrustedProxies []netip.Prefix
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP(opts.TrustedProxies),
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.CORSAllowedOrigins),
		middleware.I18N("en", opts.CountryLookup),
		middleware.Authenticate(app.Config.JWTSecret),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(rateLimit(opts.Limiter)).Post("/", app.CreateJob)
		r.Get("/{jobId}", app.GetJob)
		r.Get("/{jobId}/archive", app.JobArchive)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", func(w http.ResponseWriter, req *http.Request) {
			if strings.HasSuffix(req.URL.Path, "/") {
				http.NotFound(w, req)
				return
			}
			w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
			fs.ServeHTTP(w, req)
		})
	}

	return r
}

func rateLimit(l middleware.Limiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(l)
}
