package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shopmesh/ordering-service/internal/config"
	"github.com/shopmesh/ordering-service/internal/eventbus"
	"github.com/shopmesh/ordering-service/internal/http/middleware"
	"github.com/shopmesh/ordering-service/internal/metrics"
	"github.com/shopmesh/ordering-service/internal/repository"
	"github.com/shopmesh/ordering-service/internal/saga"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, db *sqlx.DB, rds *redis.Client, bus *eventbus.EventBus, orch *saga.Orchestrator) *Server {
	// repos
	ordersRepo := repository.NewOrdersRepository(db)
	summariesRepo := repository.NewSummariesRepository(db)
	webhooksRepo := repository.NewWebhooksRepository(db)
	basketsRepo := repository.NewBasketsRepository(rds)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", rlMW)
	v1.GET("/orders", listOrdersHandler(summariesRepo))
	v1.GET("/orders/:id", getOrderHandler(ordersRepo))
	v1.PUT("/orders/:id/status", updateOrderStatusHandler(orch))
	v1.POST("/orders/:id/cancel", cancelOrderHandler(orch))
	v1.POST("/baskets/checkout", checkoutHandler(basketsRepo, bus))
	v1.GET("/webhooks", listWebhooksHandler(webhooksRepo))
	v1.POST("/webhooks", createWebhookHandler(webhooksRepo))
	v1.DELETE("/webhooks/:id", deleteWebhookHandler(webhooksRepo))

	// operator surface for dead-lettered events
	admin := e.Group("/admin")
	admin.GET("/dlq", listDLQHandler(bus))
	admin.POST("/dlq/:queue/replay", replayDLQHandler(bus))
	admin.DELETE("/dlq/:queue/purge", purgeDLQHandler(bus))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
