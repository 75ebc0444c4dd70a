package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/devcolor-ask/internal/http/handlers"
	httpMW "github.com/yungbote/devcolor-ask/internal/http/middleware"
	"github.com/yungbote/devcolor-ask/internal/http/response"
	"github.com/yungbote/devcolor-ask/internal/observability"
	"github.com/yungbote/devcolor-ask/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	ServiceName     string
	AllowOrigins    []string
	MaxRequestBytes int64

	SessionHandler *httpH.SessionHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	if mw := httpMW.CORS(cfg.AllowOrigins); mw != nil {
		r.Use(mw)
	}
	r.Use(httpMW.LimitBody(cfg.MaxRequestBytes))

	r.NoRoute(func(c *gin.Context) {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("route not found"))
	})

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	// Metrics
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	// Query form
	if cfg.SessionHandler != nil {
		r.GET("/", cfg.SessionHandler.Page)

		sessions := r.Group("/sessions/:id")
		{
			sessions.POST("/input", cfg.SessionHandler.Input)
			sessions.POST("/ask", cfg.SessionHandler.Ask)
			sessions.GET("/state", cfg.SessionHandler.State)
			sessions.GET("/events", cfg.SessionHandler.Events)
		}
	}

	return r
}
