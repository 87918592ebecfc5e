package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/release-approval-gate/internal/gateway/handler"
	"github.com/xela07ax/release-approval-gate/internal/infra"
	"go.uber.org/zap"
)

type GatewayServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	approvalHandler *handler.ApprovalHandler
	gatherer        prometheus.Gatherer // nil — /metrics не публикуется
}

// NewGatewayServer собирает роутер шлюза со всеми зависимостями
func NewGatewayServer(cfg *infra.Config, logger *zap.Logger, approvalH *handler.ApprovalHandler, gatherer prometheus.Gatherer) *GatewayServer {
	s := &GatewayServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("gateway-api"),
		cfg:             cfg,
		approvalHandler: approvalH,
		gatherer:        gatherer,
	}

	s.routes()
	return s
}

func (s *GatewayServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(AccessLog(s.logger))
	r.Use(middleware.Recoverer)

	// --- 2. Служебные роуты ---
	r.Get("/", s.approvalHandler.Health)
	r.Get("/health", s.approvalHandler.Health)
	if s.cfg.Metrics.Enabled && s.gatherer != nil {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// --- 3. Заявки ---
	// Создание вызывает оркестратор
	r.Post("/request-approval", s.approvalHandler.Create)
	r.Get("/approval/{ref}", s.approvalHandler.View)

	// Решения: ссылки из чата (GET) и программный вызов (POST)
	r.Get("/decision/{ref}/{decision}", s.approvalHandler.Decide)
	r.Post("/decision/{ref}/{decision}", s.approvalHandler.Decide)

	// Прежние маршруты сервиса
	r.Get("/approve/{ref}", s.approvalHandler.Approve)
	r.Get("/reject/{ref}", s.approvalHandler.Reject)
}

// ServeHTTP позволяет использовать GatewayServer как стандартный http.Handler
func (s *GatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
