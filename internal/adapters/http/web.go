// Package web is the development backend: an in-memory stand-in for the
// attendance REST API the kiosk talks to.
package web

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"frontdesk/internal/adapters/http/middleware"
	"frontdesk/internal/adapters/http/perf"
	"frontdesk/internal/domain/account"
)

// APIPrefix is where the REST API is mounted.
const APIPrefix = "/api"

// DefaultRateLimitPerSecond is the per-IP request budget.
const DefaultRateLimitPerSecond = 20

// Options configures a Server.
type Options struct {
	JWTSecret          string
	TokenTTL           time.Duration
	CSRFKey            []byte // 32 bytes; generated when empty outside production
	Production         bool
	TrustedOrigins     []string
	RateLimitPerSecond int
	Collector          *perf.Collector
	Now                func() time.Time
}

// Server serves the dev backend API over a Directory.
type Server struct {
	dir       *Directory
	tokens    *middleware.Tokens
	limiter   *middleware.RateLimiter
	collector *perf.Collector
	started   time.Time
	handler   http.Handler
}

// loadCSRFKey returns the configured key, or a random one in development.
func loadCSRFKey(key []byte, production bool) ([]byte, error) {
	if len(key) == 32 {
		return key, nil
	}
	if len(key) != 0 {
		return nil, errors.New("CSRF key must be 32 bytes")
	}
	if production {
		return nil, errors.New("CSRF key is required in production")
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	slog.Warn("config_event", "event", "random_csrf_key", "detail", "form tokens will not survive a restart")
	return key, nil
}

// NewServer wires routes and middleware over dir.
// PRE: opts.JWTSecret is non-empty
func NewServer(dir *Directory, opts Options) (*Server, error) {
	if opts.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}
	csrfKey, err := loadCSRFKey(opts.CSRFKey, opts.Production)
	if err != nil {
		return nil, err
	}
	if opts.RateLimitPerSecond <= 0 {
		opts.RateLimitPerSecond = DefaultRateLimitPerSecond
	}
	if opts.Collector == nil {
		opts.Collector = perf.NewCollector(perf.DefaultRingSize)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		dir:       dir,
		tokens:    middleware.NewTokens(opts.JWTSecret, opts.TokenTTL, opts.Now),
		limiter:   middleware.NewRateLimiter(opts.RateLimitPerSecond, time.Second),
		collector: opts.Collector,
		started:   opts.Now(),
	}

	api := http.NewServeMux()
	s.registerRoutes(api)

	root := http.NewServeMux()
	root.Handle(APIPrefix+"/", http.StripPrefix(APIPrefix, api))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteMessage(w, http.StatusOK, "ok")
	})

	// Timing -> RateLimit -> Auth -> CSRF -> SecurityHeaders -> Mux
	s.handler = middleware.Chain(root,
		middleware.SecurityHeaders,
		middleware.CSRF(csrfKey, opts.Production, opts.TrustedOrigins...),
		middleware.Auth(s.tokens),
		middleware.RateLimit(s.limiter),
		middleware.Timing(middleware.TimingOptions{Collector: opts.Collector}),
	)
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	authed := middleware.RequireAuth
	admin := middleware.RequireRole(account.RoleAdministrator)
	staff := middleware.RequireRole(account.RoleAdministrator, account.RoleTrainer)

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.Handle("GET /user", authed(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /logout", authed(http.HandlerFunc(s.handleLogout)))

	mux.Handle("POST /attendance/rfid/scan", staff(http.HandlerFunc(s.handleRFIDScan)))
	mux.Handle("POST /attendance/rfid/register", admin(http.HandlerFunc(s.handleRFIDRegister)))
	mux.Handle("GET /attendance/users", admin(http.HandlerFunc(s.handleUsers)))
	mux.Handle("GET /attendance/scanner-control", authed(http.HandlerFunc(s.handleScanControl)))
	mux.Handle("POST /attendance/scanner-control", admin(http.HandlerFunc(s.handleSetScanControl)))
	mux.Handle("POST /attendance/qr-tokens", staff(http.HandlerFunc(s.handleIssueQR)))

	for _, role := range []string{account.RoleUser, account.RoleTrainer} {
		only := middleware.RequireRole(role)
		mux.Handle("POST /"+role+"/check-in/scan", only(s.handleQRScan(role)))
		mux.Handle("GET /"+role+"/check-in", only(http.HandlerFunc(s.handleCheckInStatus)))
	}

	mux.Handle("GET /debug/perf", admin(http.HandlerFunc(s.handlePerf)))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Directory returns the state the server reads and writes.
func (s *Server) Directory() *Directory { return s.dir }

// Collector returns the request timing collector.
func (s *Server) Collector() *perf.Collector { return s.collector }

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.limiter.Sweep(sweepCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("server_event", "event", "listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Seed creates the admin account unless it exists.
// POST: Returns nil if the admin already existed
func Seed(dir *Directory, adminEmail, adminPassword string) error {
	_, err := dir.AddAccount("Front Desk Admin", adminEmail, account.RoleAdministrator, adminPassword)
	if errors.Is(err, ErrEmailTaken) {
		return nil
	}
	return err
}
