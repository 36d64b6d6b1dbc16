package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/treasury-service/internal/auth"
	"github.com/richardliu001/treasury-service/internal/config"
	"github.com/richardliu001/treasury-service/internal/service"
	"go.uber.org/zap"
)

func NewRouter(svc *service.TransactionService, tokens *auth.Service, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, tokens)
	return r
}
