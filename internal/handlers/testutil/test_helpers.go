package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/api"
	"github.com/charlesng35/estatedir/internal/app"
	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/internal/cache"
	sharedtestutil "github.com/charlesng35/estatedir/internal/database/testutil"
	"github.com/charlesng35/estatedir/internal/directory"
	"github.com/charlesng35/estatedir/internal/fetch"
	"github.com/charlesng35/estatedir/internal/middleware"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/realtime"
	"github.com/charlesng35/estatedir/internal/records"
	"github.com/charlesng35/estatedir/internal/sheets"
	"github.com/charlesng35/estatedir/internal/syncer"
	"github.com/charlesng35/estatedir/pkg/response"
)

// Sheet exports served by the fake spreadsheet host, keyed by gid.
const (
	CompaniesCSV = "ID,Name,Description,Image_Path,Active\n1,Acme Homes,Riverside towers,a.png,1\n2,Globex,Garden villas,b.png,0\n"
	ProjectsCSV  = "project_id,company_id,name,active\np1,1,Tower A,1\np2,2,Villa B,1\np3,1,Tower C,0\n"
	PlacesCSV    = "id,name,address\nx1,Harbor,1 Quay St\n"
	UsersCSV     = "id,name\nu1,Agent Smith\n"
)

// ImageBytes is the body returned for every image request.
var ImageBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Upstream is a fake spreadsheet, drive and replay host.
type Upstream struct {
	Server  *httptest.Server
	Calls   atomic.Int32
	Replays atomic.Int32
	// Status, when non-zero, is returned for every request instead of content.
	Status atomic.Int32
}

func newUpstream(t *testing.T) *Upstream {
	t.Helper()

	u := &Upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/sheets/", func(w http.ResponseWriter, r *http.Request) {
		u.Calls.Add(1)
		if code := u.Status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		switch r.URL.Query().Get("gid") {
		case "0":
			_, _ = io.WriteString(w, CompaniesCSV)
		case "1":
			_, _ = io.WriteString(w, ProjectsCSV)
		case "2":
			_, _ = io.WriteString(w, PlacesCSV)
		default:
			_, _ = io.WriteString(w, UsersCSV)
		}
	})
	mux.HandleFunc("/uc", func(w http.ResponseWriter, r *http.Request) {
		if code := u.Status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		if r.URL.Query().Get("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(ImageBytes)
	})
	mux.HandleFunc("/replay", func(w http.ResponseWriter, r *http.Request) {
		u.Replays.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})

	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Server.Close)
	return u
}

// URL joins path onto the upstream address.
func (u *Upstream) URL(path string) string {
	return u.Server.URL + path
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Local    *iauth.LocalAuthenticator
	OTP      *iauth.OTPService
	Queue    *records.Store
	Sync     *syncer.Coordinator
	Hub      *realtime.Hub
	Upstream *Upstream
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db := sharedtestutil.OpenDB(t, sharedtestutil.Seeded)
	upstream := newUpstream(t)

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	cfg := &app.Config{
		Server: app.ServerConfig{
			RateLimit:      1000,
			LoginRateLimit: 100,
			RateWindow:     time.Minute,
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: jwtSecret,
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 48,
			},
			Local: app.LocalAuthSettings{
				LockoutThreshold: 5,
				LockoutDuration:  time.Minute,
			},
			OTP: app.OTPSettings{Issuer: "Estate Directory", Skew: 1},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig())
	require.NoError(t, err)

	otpSvc, err := iauth.NewOTPService(db, []byte("0123456789abcdef0123456789abcdef"), cfg.Auth.OTPOptions()...)
	require.NoError(t, err)

	local, err := iauth.NewLocalAuthenticator(db, otpSvc, cfg.Auth.LocalAuthConfig())
	require.NoError(t, err)

	client, err := sheets.NewClient(sheets.Config{
		BaseURL:       upstream.URL("/sheets"),
		DriveURL:      upstream.URL("/uc"),
		SpreadsheetID: "test",
		GIDs: map[sheets.Sheet]string{
			sheets.Companies: "0",
			sheets.Projects:  "1",
			sheets.Places:    "2",
			sheets.Users:     "3",
		},
		ImageHosts: []string{"127.0.0.1"},
		Retry:      fetch.Options{MaxAttempts: 1, Sleep: func(context.Context, time.Duration) error { return nil }},
	}, upstream.Server.Client())
	require.NoError(t, err)

	queue, err := records.Open(ctx, db)
	require.NoError(t, err)

	coordinator, err := syncer.NewCoordinator(queue, syncer.WithHTTPClient(upstream.Server.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = coordinator.Close() })

	c, err := cache.New(cache.NewMemoryStore())
	require.NoError(t, err)

	svc, err := directory.NewService(client, c, queue, directory.Config{TTL: cache.TTLMedium}, directory.WithReporter(coordinator))
	require.NoError(t, err)

	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	t.Cleanup(api.StreamSyncStatus(coordinator, hub))

	router, err := api.NewRouter(cfg, api.Dependencies{
		DB:        db,
		JWT:       jwtSvc,
		Sessions:  sessionSvc,
		Local:     local,
		Directory: svc,
		Sheets:    svc,
		Images:    client,
		Queue:     queue,
		Sync:      coordinator,
		Hub:       hub,
		RateStore: middleware.NewMemoryRateStore(),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Local:    local,
		OTP:      otpSvc,
		Queue:    queue,
		Sync:     coordinator,
		Hub:      hub,
		Upstream: upstream,
	}
}

// CreateUser provisions an active account with a random username and returns the record.
func (e *Env) CreateUser(password string) *models.User {
	e.T.Helper()

	user, err := e.Local.CreateUser(context.Background(), iauth.CreateUserInput{
		Username:    "agent-" + uuid.NewString(),
		DisplayName: "Test Agent",
		Password:    password,
	})
	require.NoError(e.T, err)
	return user
}

// TokenPair mirrors the handler login response payload.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	Tokens TokenPair   `json:"tokens"`
	User   UserPayload `json:"user"`
}

// Login authenticates with username and password, plus code when non-empty.
func (e *Env) Login(username, password, code string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"username": username,
		"password": password,
	}
	if code != "" {
		payload["code"] = code
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)
	require.Equal(e.T, username, result.User.Username)

	return result
}

// AccessToken creates a user and returns a valid bearer token for it.
func (e *Env) AccessToken() string {
	e.T.Helper()
	user := e.CreateUser("Password123!")
	return e.Login(user.Username, "Password123!", "").Tokens.AccessToken
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Server starts a real listener for the router, for websocket tests.
func (e *Env) Server() *httptest.Server {
	e.T.Helper()
	srv := httptest.NewServer(e.Router)
	e.T.Cleanup(srv.Close)
	return srv
}

// Query builds path?values.
func Query(path string, values url.Values) string {
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}
