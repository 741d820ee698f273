package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	caseHandler "github.com/jwalitptl/labcase-api/internal/handler/casework"
	catalogHandler "github.com/jwalitptl/labcase-api/internal/handler/catalog"
	"github.com/jwalitptl/labcase-api/internal/handler/health"
	promHandler "github.com/jwalitptl/labcase-api/internal/handler/prometheus"
	"github.com/jwalitptl/labcase-api/internal/middleware"
	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/validator"
)

type Router struct {
	engine  *gin.Engine
	auth    *middleware.AuthMiddleware
	cases   *caseHandler.Handler
	catalog *catalogHandler.Handler
	health  *health.Handler
	metrics *promHandler.Handler
}

type RouterConfig struct {
	RateLimit    rate.Limit
	RateBurst    int
	Timeout      time.Duration
	MaxBodyBytes int64
	CORSConfig   middleware.CORSConfig
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	cases *caseHandler.Handler,
	catalog *catalogHandler.Handler,
	healthH *health.Handler,
	metrics *promHandler.Handler,
	config RouterConfig,
) (*Router, error) {
	if err := validator.RegisterGin(); err != nil {
		return nil, err
	}
	engine := gin.New()

	r := &Router{
		engine:  engine,
		auth:    auth,
		cases:   cases,
		catalog: catalog,
		health:  healthH,
		metrics: metrics,
	}

	if config.Timeout <= 0 {
		config.Timeout = middleware.DefaultTimeoutConfig().Duration
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		metrics.Middleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.Timeout}),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(config.MaxBodyBytes),
	)

	if config.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(limiter.RateLimit())
	}

	return r, nil
}

// Setup mounts every route and returns the engine.
func (r *Router) Setup() *gin.Engine {
	r.health.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metrics.Handler())

	api := r.engine.Group("/api/v1")
	api.Use(r.auth.Authenticate())

	r.cases.RegisterRoutes(api, r.auth.RequirePermission)
	r.catalog.RegisterRoutes(api, r.auth.RequirePermission(model.PermissionCatalogManage))

	return r.engine
}
