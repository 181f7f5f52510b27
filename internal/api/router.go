package api

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/app"
	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/internal/handlers"
	"github.com/charlesng35/estatedir/internal/middleware"
	"github.com/charlesng35/estatedir/internal/realtime"
	"github.com/charlesng35/estatedir/pkg/logger"
)

// Dependencies carries the services the HTTP layer is built on.
type Dependencies struct {
	DB        *gorm.DB
	JWT       *iauth.JWTService
	Sessions  *iauth.SessionService
	Local     *iauth.LocalAuthenticator
	Directory handlers.DirectoryService
	Sheets    handlers.RawSheetSource
	Images    handlers.ImageSource
	Queue     handlers.ActionQueue
	Sync      handlers.SyncCoordinator
	Hub       *realtime.Hub
	RateStore middleware.RateStore
	// Static holds the built frontend. Nil disables the SPA fallback.
	Static fs.FS
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Sessions == nil || deps.Local == nil {
		return nil, fmt.Errorf("session and local auth services must be provided")
	}
	if deps.Directory == nil || deps.Sheets == nil || deps.Images == nil {
		return nil, fmt.Errorf("directory and sheet sources must be provided")
	}
	if deps.Queue == nil || deps.Sync == nil {
		return nil, fmt.Errorf("action queue and sync coordinator must be provided")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}

	rates := deps.RateStore
	if rates == nil {
		rates = middleware.NewMemoryRateStore()
	}
	window := cfg.Server.RateWindow
	if window <= 0 {
		window = time.Minute
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger(logger.WithModule("http")))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))
	if cfg.Server.RateLimit > 0 {
		r.Use(middleware.RateLimit(rates, cfg.Server.RateLimit, window))
	}

	r.GET("/health", handlers.Health(deps.DB, deps.Sync))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.Local, deps.Sessions)
	sheetsHandler := handlers.NewSheetsHandler(deps.Sheets, deps.Images)
	directoryHandler := handlers.NewDirectoryHandler(deps.Directory, deps.Hub)
	actionsHandler := handlers.NewActionsHandler(deps.Queue, deps.Sync, deps.Hub)
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.Sync, realtime.StreamSync, realtime.StreamDirectory)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		login := []gin.HandlerFunc{authHandler.Login}
		if cfg.Server.LoginRateLimit > 0 {
			login = append([]gin.HandlerFunc{middleware.RateLimit(rates, cfg.Server.LoginRateLimit, window)}, login...)
		}
		auth.POST("/login", login...)
		auth.POST("/refresh", authHandler.Refresh)
	}

	// Public directory reads. Images are referenced from <img> tags, which cannot carry a
	// bearer token.
	public := r.Group("/api")
	{
		public.GET("/sheets/:sheetType", sheetsHandler.Raw)
		public.GET("/image", sheetsHandler.Image)
		public.GET("/proxy-image", sheetsHandler.ProxyImage)

		public.GET("/companies", directoryHandler.ListCompanies)
		public.GET("/companies/:id", directoryHandler.GetCompany)
		public.GET("/companies/:id/projects", directoryHandler.ListCompanyProjects)
		public.GET("/projects", directoryHandler.ListProjects)
		public.GET("/projects/:id", directoryHandler.GetProject)
		public.GET("/places", directoryHandler.ListPlaces)
	}
	r.GET("/image-proxy/:fileId", sheetsHandler.ImageByPath)

	requireAuth := middleware.Auth(deps.JWT)

	// Protected routes
	protected := r.Group("/api")
	protected.Use(requireAuth)
	{
		protected.GET("/auth/me", authHandler.Me)
		protected.POST("/auth/logout", authHandler.Logout)

		protected.POST("/cache/clear", directoryHandler.ClearCache)

		protected.GET("/actions", actionsHandler.List)
		protected.POST("/actions", actionsHandler.Enqueue)
		protected.GET("/sync/status", actionsHandler.Status)
		protected.POST("/sync/now", actionsHandler.SyncNow)
	}

	r.GET("/ws/sync", requireAuth, realtimeHandler.Sync)

	r.NoRoute(spaFallback(deps.Static))

	return r, nil
}
