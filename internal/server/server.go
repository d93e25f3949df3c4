package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/config"
	"github.com/open-wander/tally/internal/metrics"
	"github.com/open-wander/tally/internal/service"
)

// Reports computes the analytics responses served over HTTP.
type Reports interface {
	Summary(ctx context.Context, rc analytics.RequestContext, raw analytics.RawQuery) (*service.SummaryResponse, error)
	TimeSeries(ctx context.Context, rc analytics.RequestContext, raw analytics.RawTimeSeriesQuery) (*service.TimeSeriesResponse, error)
	Funnel(ctx context.Context, rc analytics.RequestContext, req service.FunnelRequest) (*service.FunnelResponse, error)
	ABTest(ctx context.Context, rc analytics.RequestContext, campaignID string, raw analytics.RawQuery) (*service.ABTestResponse, error)
	CostQuota(ctx context.Context, rc analytics.RequestContext) (*service.CostQuotaResponse, error)
}

// Pinger reports event store health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server represents the HTTP server instance
type Server struct {
	app     *fiber.App
	config  *config.Config
	reports Reports
	health  Pinger
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// New creates a new Server. It fails when the configured htpasswd file is
// unreadable or holds no bcrypt users.
func New(cfg *config.Config, reports Reports, health Pinger, logger *zap.Logger, m *metrics.Collector) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:               "Tally Analytics",
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		reports: reports,
		health:  health,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// setupMiddleware configures middleware for the application
func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: uuid.NewString,
	}))
	s.app.Use(s.accessLog)
}

// accessLog logs every request and records it in the HTTP metrics
func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	elapsed := time.Since(start)

	status := c.Response().StatusCode()
	route := c.Route().Path
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		if fe.Code == fiber.StatusNotFound {
			route = "unmatched"
		}
	} else if err != nil {
		status = fiber.StatusInternalServerError
	}

	s.metrics.ObserveRequest(c.Method(), route, status, elapsed)
	s.logger.Info("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("latency", elapsed),
		zap.String("request_id", requestID(c)),
		zap.String("tenant_id", c.Get(headerTenantID)),
	)
	return err
}

// createAuthMiddleware creates basic auth middleware guarding /metrics.
// Returns nil if no htpasswd file is configured.
func (s *Server) createAuthMiddleware() (fiber.Handler, error) {
	if s.config == nil || s.config.MetricsHtpasswd == "" {
		return nil, nil
	}

	users, err := parseHtpasswd(s.config.MetricsHtpasswd, s.logger)
	if err != nil {
		return nil, err
	}

	return basicauth.New(basicauth.Config{
		Realm: "metrics",
		Authorizer: func(user, pass string) bool {
			hashedPass, exists := users[user]
			if !exists {
				return false
			}
			return verifyPassword(pass, hashedPass)
		},
	}), nil
}

// parseHtpasswd reads and parses an htpasswd file
// Returns a map of username to hashed password
func parseHtpasswd(filepath string, logger *zap.Logger) (map[string]string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to open htpasswd file: %w", err)
	}
	defer file.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// username:hash
		username, hash, ok := strings.Cut(line, ":")
		if !ok {
			logger.Warn("invalid htpasswd entry: missing colon", zap.Int("line", lineNum))
			continue
		}

		// only bcrypt is supported
		if !strings.HasPrefix(hash, "$2") {
			logger.Warn("unsupported htpasswd hash format, only bcrypt is accepted",
				zap.String("user", username), zap.Int("line", lineNum))
			continue
		}

		users[username] = hash
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading htpasswd file: %w", err)
	}

	if len(users) == 0 {
		return nil, fmt.Errorf("no valid users found in htpasswd file")
	}

	return users, nil
}

// verifyPassword checks if a plaintext password matches a hashed password
func verifyPassword(plaintext, hashed string) bool {
	if !strings.HasPrefix(hashed, "$2") {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext)) == nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() error {
	s.app.Get("/health", s.handleHealth)

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	serveMetrics := func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	}
	auth, err := s.createAuthMiddleware()
	if err != nil {
		return err
	}
	if auth != nil {
		s.app.Get("/metrics", auth, serveMetrics)
	} else {
		s.app.Get("/metrics", serveMetrics)
	}

	api := s.app.Group("/api", s.tenantContext)

	api.Get("/analytics/summary", s.handleSummary)
	api.Get("/analytics/timeseries", s.handleTimeSeries)
	api.Get("/analytics/funnel", s.handleFunnel)
	api.Get("/analytics/cost", s.handleCost)
	api.Get("/campaigns/:campaignID/ab-test", s.handleABTest)
	return nil
}

// Handler exposes the fiber app for tests and embedding
func (s *Server) Handler() *fiber.App {
	return s.app
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("listen", s.config.Listen))
	return s.app.Listen(s.config.Listen)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.app.ShutdownWithContext(ctx)
}
