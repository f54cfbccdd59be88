package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mirantepos/table-service/internal/config"
	"github.com/mirantepos/table-service/internal/fanout"
	"github.com/mirantepos/table-service/internal/service"
)

func NewRouter(svc *service.TableService, broker *fanout.Broker, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(ActorMiddleware())
	RegisterHandlers(v1, svc)
	v1.GET("/events", eventsHandler(broker, log))
	return r
}
