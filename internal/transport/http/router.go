package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"farmhands/internal/app/requester"
	"farmhands/internal/config"
	"farmhands/internal/delivery"
	"farmhands/internal/mcpserver"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter serves the game API: decision submission, job status and queue
// health. The MCP endpoint is mounted when profiles is non-nil.
func NewRouter(svc *requester.Service, st Pinger, profiles mcpserver.Profiles, cfg config.APIConfig) *chi.Mux {
	gameHandlers := NewGameHandlers(svc)
	adminHandlers := NewAdminHandlers(st)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	r.With(APILogMiddleware()).Get("/healthz", adminHandlers.Health())
	if profiles != nil {
		mcpSrv := mcpserver.New(svc, profiles)
		r.With(APILogMiddleware()).Method(http.MethodPost, "/mcp", mcpSrv.Handler())
		r.With(APILogMiddleware()).Method(http.MethodGet, "/mcp", mcpSrv.Handler())
		r.With(APILogMiddleware()).Method(http.MethodDelete, "/mcp", mcpSrv.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Use(GzipMiddleware())

		r.Route("/game", func(r chi.Router) {
			r.With(BodyCaptureMiddleware(cfg.CaptureBytes)).Post("/ai-decision", gameHandlers.SubmitDecision())
			r.Get("/job-status/{jobId}", gameHandlers.JobStatus())
			r.Get("/health", gameHandlers.Health())
		})
		r.Get("/debug/vars", expvar.Handler().ServeHTTP)
	})
	return r
}

// NewWorkerRouter serves the worker's socket endpoint and its probes.
func NewWorkerRouter(hub *delivery.Hub, st Pinger) *chi.Mux {
	adminHandlers := NewAdminHandlers(st)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/ws", hub.ServeWS())
	r.With(APILogMiddleware()).Get("/healthz", adminHandlers.Health())
	r.Get("/debug/vars", expvar.Handler().ServeHTTP)
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 16)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
