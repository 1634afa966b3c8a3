// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/config"
	"github.com/tradewind/settlement/internal/dispute"
	"github.com/tradewind/settlement/internal/escrow"
	"github.com/tradewind/settlement/internal/events"
	"github.com/tradewind/settlement/internal/health"
	"github.com/tradewind/settlement/internal/idgen"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/logging"
	"github.com/tradewind/settlement/internal/metrics"
	"github.com/tradewind/settlement/internal/order"
	"github.com/tradewind/settlement/internal/payout"
	"github.com/tradewind/settlement/internal/wallet"
)

// Server wraps the HTTP server and its service dependencies.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB // nil when using in-memory stores
	router    *gin.Engine
	httpSrv   *http.Server
	publisher events.Publisher
	checks    *health.Registry

	ledgerStore ledger.Store
	auditLog    audit.Logger
	wallets     *wallet.Manager
	orders      *order.Service
	escrows     *escrow.Service
	disputes    *dispute.Service
	payouts     *payout.Service

	cancelRunCtx context.CancelFunc
	ready        atomic.Bool
	healthy      atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPublisher sets a custom event publisher (for testing).
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// New creates a server instance. Stores are PostgreSQL when DATABASE_URL is
// set, otherwise in-memory.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.publisher == nil {
		if len(cfg.KafkaBrokers) > 0 {
			s.publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic)
			s.logger.Info("kafka event publisher enabled", "topic", cfg.EventsTopic)
		} else {
			s.publisher = events.Nop{}
			s.logger.Info("event publishing disabled (no KAFKA_BROKERS set)")
		}
	}

	var orderStore order.Store
	var escrowStore escrow.Store
	var disputeStore dispute.Store
	var payoutStore payout.Store

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.ledgerStore = ledger.NewPostgresStore(db)
		s.auditLog = audit.NewPostgresLogger(db)
		orderStore = order.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		payoutStore = payout.NewPostgresStore(db)
		s.checks.Register("postgres", health.DatabaseChecker("postgres", db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		memAudit := audit.NewMemoryLog()
		memLedger := ledger.NewMemoryStore(memAudit)
		s.ledgerStore = memLedger
		s.auditLog = memAudit
		orderStore = order.NewMemoryStore(memAudit)
		escrowStore = escrow.NewMemoryStore(memLedger, memAudit)
		disputeStore = dispute.NewMemoryStore(memAudit)
		payoutStore = payout.NewMemoryStore(memLedger, memAudit)
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.wallets = wallet.NewManager(s.ledgerStore, cfg.AdjustmentReasonMinLen)
	s.orders = order.NewService(orderStore, s.publisher, cfg.RequireDeliveryProof)
	s.escrows = escrow.NewService(escrowStore, s.orders, s.publisher, cfg.PlatformFeeBps, true)
	s.disputes = dispute.NewService(disputeStore, s.orders, s.escrows, s.publisher)
	s.payouts = payout.NewService(payoutStore, s.ledgerStore, s.publisher, cfg.MinPayoutAmount)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
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

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
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

// actorMiddleware resolves the acting identity from the X-Actor-ID and
// X-Actor-Role headers. In production this sits behind a gateway that has
// already authenticated the caller; the headers are its assertion.
func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Actor-ID")
		role := actor.Role(c.GetHeader("X-Actor-Role"))

		if role != "" && !role.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_role",
				"message": "X-Actor-Role is not a known role",
			})
			return
		}

		if id != "" && role != "" {
			ctx := actor.WithActor(c.Request.Context(), actor.Actor{ID: id, Role: role})
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/api/v1")
	v1.Use(actorMiddleware())

	wallet.NewHandler(s.wallets).RegisterRoutes(v1)
	order.NewHandler(s.orders).RegisterRoutes(v1)
	escrow.NewHandler(s.escrows).RegisterRoutes(v1)
	dispute.NewHandler(s.disputes).RegisterRoutes(v1)
	payout.NewHandler(s.payouts).RegisterRoutes(v1)

	v1.GET("/admin/audit", s.auditQueryHandler)
}

// auditQueryHandler handles GET /api/v1/admin/audit
func (s *Server) auditQueryHandler(c *gin.Context) {
	ctx := c.Request.Context()
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapAuditRead); err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Actor lacks the required capability",
		})
		return
	}

	q := audit.Query{
		ActorID:    c.Query("actorId"),
		TargetType: c.Query("targetType"),
		TargetID:   c.Query("targetId"),
		Action:     c.Query("action"),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "from must be RFC3339",
			})
			return
		}
		q.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "to must be RFC3339",
			})
			return
		}
		q.To = t
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			q.Limit = n
		}
	}

	entries, err := s.auditLog.Find(ctx, q)
	if err != nil {
		logging.L(ctx).Error("audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
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

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)
	httpStatus := http.StatusOK
	status := "ready"
	if !healthy {
		httpStatus = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(httpStatus, gin.H{
		"status": status,
		"checks": statuses,
	})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "settlement",
		"description": "Escrow-backed settlement engine",
		"version":     "0.1.0",
	})
}

// Run starts the HTTP server and blocks until a shutdown signal or error.
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

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

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("publisher close error", "error", err)
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	return idgen.Hex(16)
}
