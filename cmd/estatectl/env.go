package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/app"
	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/internal/database"
	"github.com/charlesng35/estatedir/internal/sheets"
	"github.com/charlesng35/estatedir/pkg/logger"
)

// cliEnv holds the services a single command invocation needs. Services are built lazily so
// commands that only read the spreadsheet never touch the database.
type cliEnv struct {
	cfg *app.Config
	log *zap.Logger
	db  *gorm.DB
}

func openEnv(opts *rootOptions) (*cliEnv, error) {
	cfg, err := app.LoadConfigFrom(opts.configPath)
	if err != nil {
		return nil, err
	}
	if _, err := app.ApplyRuntimeDefaults(cfg); err != nil {
		return nil, err
	}

	if err := logger.Init(opts.logLevel); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return &cliEnv{cfg: cfg, log: logger.WithModule("estatectl")}, nil
}

func (e *cliEnv) database() (*gorm.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := database.Open(e.cfg.Database.ConnectionConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}
	e.db = db
	return db, nil
}

func (e *cliEnv) Close() {
	if e == nil || e.db == nil {
		return
	}
	if err := database.Close(e.db); err != nil {
		e.log.Warn("failed to close database", zap.Error(err))
	}
	e.db = nil
}

func (e *cliEnv) otpService(ctx context.Context) (*iauth.OTPService, error) {
	db, err := e.database()
	if err != nil {
		return nil, err
	}
	key, _, err := app.ResolveOTPKey(ctx, db, e.cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("resolve otp key: %w", err)
	}
	return iauth.NewOTPService(db, key, e.cfg.Auth.OTPOptions()...)
}

func (e *cliEnv) accounts(ctx context.Context) (*iauth.LocalAuthenticator, *iauth.OTPService, error) {
	otpSvc, err := e.otpService(ctx)
	if err != nil {
		return nil, nil, err
	}
	local, err := iauth.NewLocalAuthenticator(e.db, otpSvc, e.cfg.Auth.LocalAuthConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("initialise local auth: %w", err)
	}
	return local, otpSvc, nil
}

func (e *cliEnv) sessions() (*iauth.SessionService, error) {
	db, err := e.database()
	if err != nil {
		return nil, err
	}
	jwtSvc, err := iauth.NewJWTService(e.cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}
	store, err := e.cfg.Cache.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise cache store: %w", err)
	}
	sessionCfg := e.cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewStoreSessionCache(store)
	return iauth.NewSessionService(db, jwtSvc, sessionCfg)
}

func (e *cliEnv) sheetsClient() (*sheets.Client, error) {
	if strings.TrimSpace(e.cfg.Sheets.SpreadsheetID) == "" {
		return nil, errors.New("sheets.spreadsheet_id must be configured")
	}
	return sheets.NewClient(e.cfg.Sheets.ClientConfig(), &http.Client{})
}
