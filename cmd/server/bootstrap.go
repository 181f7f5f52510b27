package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/api"
	"github.com/charlesng35/estatedir/internal/app"
	"github.com/charlesng35/estatedir/internal/app/maintenance"
	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/internal/cache"
	"github.com/charlesng35/estatedir/internal/database"
	"github.com/charlesng35/estatedir/internal/directory"
	"github.com/charlesng35/estatedir/internal/middleware"
	"github.com/charlesng35/estatedir/internal/realtime"
	"github.com/charlesng35/estatedir/internal/records"
	"github.com/charlesng35/estatedir/internal/sheets"
	"github.com/charlesng35/estatedir/internal/syncer"
	"github.com/charlesng35/estatedir/pkg/logger"
	"github.com/charlesng35/estatedir/web"
)

const warmTimeout = 30 * time.Second

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB          *gorm.DB
	Store       app.PurgingStore
	Records     *records.Store
	Coordinator *syncer.Coordinator
	Monitor     *syncer.Monitor
	Directory   *directory.Service
	Hub         *realtime.Hub
	Cleaner     *maintenance.Cleaner
	Router      *gin.Engine

	unsubscribe func()
}

// bootstrapRuntime initialises the database, cache, spreadsheet client, sync machinery and
// the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Store, err = cfg.Cache.NewStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise cache store: %w", err)
	}
	sheetCache, err := cache.New(stack.Store, cfg.Cache.CacheOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise cache: %w", err)
	}

	stack.Records, err = records.Open(ctx, stack.DB)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	httpClient := &http.Client{}
	client, err := sheets.NewClient(cfg.Sheets.ClientConfig(), httpClient)
	if err != nil {
		return nil, fmt.Errorf("initialise sheets client: %w", err)
	}

	lastSync, err := app.LoadLastSync(ctx, stack.DB)
	if err != nil {
		log.Warn("last sync time unavailable", zap.Error(err))
	}
	stack.Coordinator, err = syncer.NewCoordinator(stack.Records,
		syncer.WithHTTPClient(httpClient),
		syncer.WithRequestTimeout(cfg.Sync.RequestTimeout),
		syncer.WithLastSync(lastSync),
		syncer.WithPassHook(app.RecordLastSync(stack.DB, log)),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise sync coordinator: %w", err)
	}
	if err := stack.Coordinator.RefreshPending(ctx); err != nil {
		log.Warn("pending action count unavailable", zap.Error(err))
	}

	stack.Directory, err = directory.NewService(client, sheetCache, stack.Records,
		directory.Config{TTL: cfg.Cache.TTL, Format: cfg.Sheets.Format},
		directory.WithReporter(stack.Coordinator),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise directory service: %w", err)
	}

	stack.Hub = realtime.NewHub()
	stack.unsubscribe = api.StreamSyncStatus(stack.Coordinator, stack.Hub)

	stack.Monitor, err = syncer.NewMonitor(client, stack.Coordinator, cfg.Sync.ProbeInterval, cfg.Sync.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialise connectivity monitor: %w", err)
	}
	stack.Monitor.Start(context.Background())

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewStoreSessionCache(stack.Store)
	sessionSvc, err := iauth.NewSessionService(stack.DB, jwtSvc, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	otpKey, generated, err := app.ResolveOTPKey(ctx, stack.DB, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("resolve otp key: %w", err)
	}
	if generated {
		log.Info("generated one-time code encryption key")
	}
	otpSvc, err := iauth.NewOTPService(stack.DB, otpKey, cfg.Auth.OTPOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise otp service: %w", err)
	}
	local, err := iauth.NewLocalAuthenticator(stack.DB, otpSvc, cfg.Auth.LocalAuthConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise local auth: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(maintenance.Dependencies{
		Sessions:  sessionSvc,
		Cache:     sheetCache,
		Store:     stack.Store,
		Sync:      stack.Coordinator,
		Compactor: stack.Records,
	},
		maintenance.WithRetention(cfg.Sync.Retention),
		maintenance.WithSessionSchedule(cfg.Auth.Session.Schedule),
		maintenance.WithCacheSchedule(cfg.Sync.CacheSchedule),
		maintenance.WithRetrySchedule(cfg.Sync.RetrySchedule),
		maintenance.WithCompactSchedule(cfg.Sync.CompactSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	static, err := web.FS()
	if err != nil {
		return nil, fmt.Errorf("load frontend: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		DB:        stack.DB,
		JWT:       jwtSvc,
		Sessions:  sessionSvc,
		Local:     local,
		Directory: stack.Directory,
		Sheets:    stack.Directory,
		Images:    client,
		Queue:     stack.Records,
		Sync:      stack.Coordinator,
		Hub:       stack.Hub,
		RateStore: middleware.NewRateStore(stack.Store),
		Static:    static,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	if cfg.Cache.Warm {
		warmCtx, cancel := context.WithTimeout(ctx, warmTimeout)
		if err := stack.Directory.Warm(warmCtx); err != nil {
			log.Warn("cache warm-up failed", zap.Error(err))
		}
		cancel()
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Monitor != nil {
		s.Monitor.Stop()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.Hub != nil {
		s.Hub.Close()
	}

	if s.Coordinator != nil {
		if err := s.Coordinator.Close(); err != nil {
			log.Warn("sync coordinator shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
