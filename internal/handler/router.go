package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/handler/chat"
	"github.com/zhouzirui/persona-counsel/backend/internal/handler/editor"
	"github.com/zhouzirui/persona-counsel/backend/internal/handler/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/handler/personality"
	"github.com/zhouzirui/persona-counsel/backend/internal/handler/stream"
	"github.com/zhouzirui/persona-counsel/backend/internal/metrics"
	personaModel "github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	personalityModel "github.com/zhouzirui/persona-counsel/backend/internal/model/personality"
	aiService "github.com/zhouzirui/persona-counsel/backend/internal/service/ai"
	chatService "github.com/zhouzirui/persona-counsel/backend/internal/service/chat"
	"github.com/zhouzirui/persona-counsel/backend/pkg/utils"
)

// Dependencies 汇总路由所需的服务。
type Dependencies struct {
	Personas       personaModel.Store
	Answers        personalityModel.AnswerStore
	Catalog        *personalityModel.Catalog
	Sessions       *chatService.Service
	Orchestrator   *chatService.Orchestrator
	Generator      aiService.Generator
	Provider       string
	Metrics        *metrics.Collector
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		stream.New(deps.Personas, logger).RegisterRoutes(api)
		persona.New(deps.Personas, logger).RegisterRoutes(api)
		personality.New(deps.Catalog, deps.Answers, deps.Personas, logger).RegisterRoutes(api)
		chat.New(deps.Sessions, deps.Orchestrator, deps.Personas, deps.Generator, deps.Provider, logger).RegisterRoutes(api)
		editor.NewWebSocketHandler(deps.Personas, logger).RegisterRoutes(api)
	})

	return r
}

// requestLogger 用 zap 记录每个请求。
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.With(zap.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(started)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
