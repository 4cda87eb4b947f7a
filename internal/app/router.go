package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockcontrol/internal/api"
	"github.com/odyssey-erp/stockcontrol/internal/observability"
	"github.com/odyssey-erp/stockcontrol/internal/platform/httpx"
	"github.com/odyssey-erp/stockcontrol/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	API        *api.Handler
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
	// SignatureDir is served under SignatureBaseURL when the base URL is a local path.
	SignatureDir string
}

type healthResponse struct {
	Status string `json:"status"`
}

// NewRouter constructs the chi.Router with stock control defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})

	if params.API != nil {
		r.Route("/api/stock-control", params.API.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.SignatureDir != "" && params.Config != nil && isLocalPath(params.Config.SignatureBaseURL) {
		prefix := params.Config.SignatureBaseURL
		files := http.StripPrefix(prefix+"/", http.FileServer(http.Dir(params.SignatureDir)))
		r.Handle(prefix+"/*", cacheForever(files))
	}
	return r
}

func isLocalPath(base string) bool {
	return len(base) > 1 && base[0] == '/' && base[1] != '/'
}

// cacheForever marks content-addressed files immutable.
func cacheForever(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		next.ServeHTTP(w, r)
	})
}
