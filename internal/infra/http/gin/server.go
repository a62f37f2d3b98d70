package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"hotelsaga/internal/infra/config"
	"hotelsaga/internal/infra/obs"
)

type SagaHTTP interface {
	Start(c *gin.Context)
	Get(c *gin.Context)
	CheckOut(c *gin.Context)
	Cancel(c *gin.Context)
}

type OutboxHTTP interface {
	Failed(c *gin.Context)
	Requeue(c *gin.Context)
}

type Handlers struct {
	Saga   SagaHTTP
	Outbox OutboxHTTP
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg.Env, obsMW, health, h),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func NewRouter(env string, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.AccessLog())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Saga != nil {
		api.POST("/bookings", h.Saga.Start)
		sagas := api.Group("/sagas/:sagaId")
		sagas.GET("", h.Saga.Get)
		sagas.POST("/checkout", h.Saga.CheckOut)
		sagas.POST("/cancel", h.Saga.Cancel)
	}
	if h.Outbox != nil {
		api.GET("/outbox/failed", h.Outbox.Failed)
		api.POST("/outbox/:id/requeue", h.Outbox.Requeue)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
