// Package server wires the transfer engine together and serves it over HTTP.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/admin"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/auth"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/circuitbreaker"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/config"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/events"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/health"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/metrics"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/mfa"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ratelimit"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/reconciliation"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/risk"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/security"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/transfer"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/validation"
	"github.com/realsamir007/online-transaction-fraud-detection-system/migrations"
)

// Version is reported by the health endpoint. Set by cmd/server from ldflags.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	clock       clockwork.Clock
	db          *sql.DB
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	rateLimiter *ratelimit.Limiter
	health      *health.Registry

	publisher   events.Publisher
	classifier  risk.Classifier
	accounts    *ledger.Service
	gateway     *risk.Gateway
	challenges  *mfa.Manager
	transfers   *transfer.Service
	reconciler  *reconciliation.Service
	assessments risk.AssessmentStore

	mfaTimer       *mfa.Timer
	reconcileTimer *reconciliation.Timer

	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc
	ready        atomic.Bool
	healthy      atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock injects the clock used by every time-dependent component.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithClassifier replaces the configured fraud classifier.
func WithClassifier(c risk.Classifier) Option {
	return func(s *Server) {
		s.classifier = c
	}
}

// WithPublisher replaces the configured event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	ctx := context.Background()

	var (
		ledgerStore    ledger.Store
		challengeStore mfa.Store
		assessments    risk.AssessmentStore
	)

	// Postgres if DATABASE_URL set, otherwise in-memory
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := migrations.Up(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
			s.logger.Info("database migrations applied")
		}

		s.db = db
		ledgerStore = ledger.NewPostgresStore(db)
		challengeStore = mfa.NewPostgresStore(db)
		assessments = risk.NewPostgresStore(db)
		s.health.Register("database", health.Ping("database", db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		ledgerStore = ledger.NewMemoryStoreWithClock(s.clock)
		challengeStore = mfa.NewMemoryStore()
		assessments = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if err := s.setupPublisher(ctx); err != nil {
		s.closeDB()
		return nil, err
	}

	if err := s.setupServices(ledgerStore, challengeStore, assessments); err != nil {
		s.closeDB()
		_ = s.publisher.Close()
		return nil, err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) setupPublisher(ctx context.Context) error {
	if s.publisher != nil {
		return nil
	}
	switch s.cfg.EventsBackend {
	case "redis":
		p, err := events.NewRedisPublisher(ctx, s.cfg.RedisURL, s.cfg.RedisStream)
		if err != nil {
			return err
		}
		s.publisher = p
		s.health.RegisterOptional("events", health.Ping("events", p.Ping))
		s.logger.Info("publishing events to redis", "stream", s.cfg.RedisStream)
	case "amqp":
		p, err := events.NewAMQPPublisher(s.cfg.AMQPURL, s.cfg.AMQPExchange)
		if err != nil {
			return err
		}
		s.publisher = p
		s.health.RegisterOptional("events", health.Ping("events", p.Ping))
		s.logger.Info("publishing events to amqp", "exchange", s.cfg.AMQPExchange)
	default:
		s.publisher = events.NewLogPublisher(s.logger)
	}
	return nil
}

func (s *Server) setupServices(store ledger.Store, challengeStore mfa.Store, assessments risk.AssessmentStore) error {
	cfg := s.cfg

	s.accounts = ledger.NewService(store, s.clock, s.publisher, ledger.AccountDefaults{
		BankCode:       cfg.DefaultBankCode,
		Currency:       cfg.DefaultCurrency,
		OpeningBalance: cfg.OpeningBalance,
	})
	poster := ledger.NewPoster(store, s.clock)

	if s.classifier == nil {
		if cfg.ClassifierURL != "" {
			s.classifier = risk.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierAPIKey, cfg.ClassifierTimeout)
			s.logger.Info("using remote fraud classifier", "url", cfg.ClassifierURL)
		} else {
			s.classifier = risk.NewHeuristicClassifier()
			s.logger.Warn("CLASSIFIER_URL not set, using heuristic classifier")
		}
	}

	gwCfg := risk.DefaultGatewayConfig()
	gwCfg.Timeout = cfg.ClassifierTimeout
	gwCfg.MaxAttempts = cfg.ClassifierMaxAttempts
	gateway, err := risk.NewGateway(s.classifier, risk.Thresholds{
		LowMax:  cfg.RiskLowThreshold,
		HighMin: cfg.RiskHighThreshold,
	}, gwCfg)
	if err != nil {
		return fmt.Errorf("failed to create risk gateway: %w", err)
	}
	s.gateway = gateway

	hasher, err := mfa.NewHasher(cfg.MFAHashAlgorithm, cfg.MFASigningSecret)
	if err != nil {
		return fmt.Errorf("failed to create mfa hasher: %w", err)
	}
	s.challenges, err = mfa.NewManager(challengeStore, hasher, s.clock, mfa.Config{
		CodeLength:  cfg.MFACodeLength,
		MaxAttempts: cfg.MFAMaxAttempts,
		TTL:         cfg.MFACodeTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create mfa manager: %w", err)
	}
	s.mfaTimer = mfa.NewTimer(s.challenges, cfg.MFASweepInterval, s.logger)

	s.transfers = transfer.NewService(s.accounts, poster, gateway, s.challenges, s.publisher, s.clock).
		WithAssessments(assessments).
		WithDemoCodes(cfg.MFAEchoCode)
	if cfg.MFAEchoCode {
		s.logger.Warn("MFA codes are echoed in API responses; never enable this in production")
	}

	s.assessments = assessments
	s.reconciler = reconciliation.NewService(store, s.clock)
	s.reconcileTimer = reconciliation.NewTimer(s.reconciler, 5*time.Minute, s.logger)

	s.health.RegisterOptional("classifier", func(context.Context) health.Status {
		state := s.gateway.BreakerState()
		return health.Status{Healthy: state != circuitbreaker.StateOpen, Detail: state.String()}
	})
	return nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 && !s.cfg.IsProduction() {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	if s.cfg.RateLimitBurst > 0 {
		rl.BurstSize = s.cfg.RateLimitBurst
	}
	s.rateLimiter = ratelimit.NewWithClock(rl, s.clock)
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// callerKey buckets rate limits by authenticated user, falling back to IP.
func callerKey(c *gin.Context) string {
	if id := auth.UserID(c); id != "" {
		return "user:" + id
	}
	return "ip:" + ratelimit.ClientIP(c)
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	verifier := auth.NewVerifierWithClock(s.cfg.JWTSecret, s.clock)

	protected := s.router.Group("/v1")
	protected.Use(auth.RequireAuth(verifier))
	protected.Use(s.rateLimiter.Middleware(callerKey))
	ledger.NewHandler(s.accounts).RegisterProtectedRoutes(protected)
	transfer.NewHandler(s.transfers, s.accounts).RegisterProtectedRoutes(protected)

	adminGroup := s.router.Group("/v1")
	adminGroup.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	ledger.NewHandler(s.accounts).RegisterAdminRoutes(adminGroup)
	admin.NewHandler().
		WithClock(s.clock).
		WithTransferService(s.transfers).
		WithReconciler(s.reconciler).
		WithAssessmentExporter(s.assessments).
		RegisterRoutes(adminGroup)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Route not found",
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())
	checks = append(checks, health.Status{
		Name:    "mfa_sweeper",
		Healthy: s.mfaTimer.Running() || !s.ready.Load(),
	})

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		for _, st := range checks {
			if !st.Healthy {
				status = "degraded"
				break
			}
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if healthy, _ := s.health.CheckAll(c.Request.Context()); !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", Version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.mfaTimer.Start(runCtx)
	go s.reconcileTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.mfaTimer.Stop()
	s.reconcileTimer.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("event publisher close error", "error", err)
	}

	s.closeDB()

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
