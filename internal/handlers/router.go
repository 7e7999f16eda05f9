package handlers

import (
	"net/http"

	"memoir-ledger/internal/auth"
	"memoir-ledger/internal/logging"
	"memoir-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RouterConfig holds everything the HTTP routes depend on
type RouterConfig struct {
	DB            *gorm.DB
	Services      *services.Services
	Verifier      auth.TokenVerifier
	AdminPassword string
	// Gatherer backs /metrics; the route is not registered when nil.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware(cfg.Logger))

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	ledgerHandler := NewLedgerHandler(cfg.Services, cfg.Logger)
	adminHandler := NewAdminHandler(cfg.Services.Reconciler, cfg.AdminPassword, cfg.Logger)
	docsHandler := NewDocsHandler()
	healthHandler := NewHealthHandler(cfg.DB)

	r.GET("/health", healthHandler.HealthCheck)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/doc/:doc", docsHandler.ServeMarkdownAsHTML)

	api := r.Group("/api", auth.Middleware(cfg.Verifier))
	{
		api.GET("/dashboard", ledgerHandler.GetDashboard)
		api.GET("/corrections", ledgerHandler.ListCorrections)

		contradictions := api.Group("/contradictions")
		{
			contradictions.POST("/:id/resolve", ledgerHandler.ResolveContradiction)
			contradictions.POST("/:id/dismiss", ledgerHandler.DismissContradiction)
		}

		units := api.Group("/units")
		{
			units.POST("/:id/prune", ledgerHandler.PruneUnit)
			units.POST("/:id/restore", ledgerHandler.RestoreUnit)
			units.POST("/:id/correct", ledgerHandler.CorrectUnit)
		}
	}

	// Admin routes (password protected)
	admin := r.Group("/admin", adminHandler.AdminAuth())
	{
		admin.GET("/audit-gaps/:user", adminHandler.GetAuditGaps)
		admin.POST("/audit-gaps/:user/repair", adminHandler.RepairAuditGaps)
	}

	return r
}
