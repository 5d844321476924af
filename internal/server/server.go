// Package server exposes the analysis operations over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/repolens/internal/services/analysis"
)

const (
	defaultListenAddress    = "127.0.0.1:8000"
	defaultShutdownDuration = 10 * time.Second
	defaultAllowedOrigin    = "*"

	// HeaderSessionID carries the caller's session identifier.
	HeaderSessionID = "X-Session-ID"

	healthPath    = "/health"
	metricsPath   = "/metrics"
	structurePath = "/structure"
	overviewPath  = "/overview"
	chatPath      = "/chat"
	generatePath  = "/generate"
	securityPath  = "/api/analyze-security"
	sessionPath   = "/session"

	listenErrorFormat   = "listen on %s: %w"
	serveErrorFormat    = "serve HTTP: %w"
	shutdownErrorFormat = "shutdown HTTP: %w"
	listeningMessage    = "http server listening"
	requestLogMessage   = "http request"
)

// Analyzer runs the repository operations for a session.
type Analyzer interface {
	Structure(ctx context.Context, sessionID string, repositoryURL string) (analysis.Structure, error)
	Overview(ctx context.Context, sessionID string, repositoryURL string) (analysis.Overview, error)
	Chat(ctx context.Context, sessionID string, repositoryURL string, message string) (string, error)
	Generate(ctx context.Context, sessionID string, repositoryURL string, documentType string) (string, error)
	Security(ctx context.Context, sessionID string, repositoryURL string) (analysis.SecurityReport, error)
}

// SessionEnder releases the resources held by a session.
type SessionEnder interface {
	EndSession(sessionID string)
}

// Config defines runtime options for the HTTP server.
type Config struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Options wires the server's collaborators.
type Options struct {
	Config     Config
	Analyzer   Analyzer
	Sessions   SessionEnder
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
}

// Server serves the analysis API.
type Server struct {
	config   Config
	analyzer Analyzer
	sessions SessionEnder
	echo     *echo.Echo
	metrics  *httpMetrics
	logger   *zap.Logger
}

// NewServer creates a Server with defaults applied and every route registered.
func NewServer(options Options) *Server {
	config := options.Config
	if config.Address == "" {
		config.Address = defaultListenAddress
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownDuration
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := options.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	echoInstance := echo.New()
	echoInstance.HideBanner = true
	echoInstance.HidePort = true
	echoInstance.Validator = newRequestValidator()

	server := &Server{
		config:   config,
		analyzer: options.Analyzer,
		sessions: options.Sessions,
		echo:     echoInstance,
		metrics:  newHTTPMetrics(options.Registerer),
		logger:   logger,
	}
	echoInstance.HTTPErrorHandler = server.handleError

	echoInstance.Use(middleware.Recover())
	echoInstance.Use(middleware.RequestID())
	echoInstance.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  config.AllowedOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, HeaderSessionID},
		ExposeHeaders: []string{HeaderSessionID, echo.HeaderXRequestID},
	}))
	echoInstance.Use(server.logRequests)
	echoInstance.Use(server.metrics.middleware)
	echoInstance.Use(sessionMiddleware)

	echoInstance.GET(healthPath, server.handleHealth)
	echoInstance.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	echoInstance.POST(structurePath, server.handleStructure)
	echoInstance.POST(overviewPath, server.handleOverview)
	echoInstance.POST(chatPath, server.handleChat)
	echoInstance.POST(generatePath, server.handleGenerate)
	echoInstance.POST(securityPath, server.handleSecurity)
	echoInstance.DELETE(sessionPath, server.handleEndSession)
	return server
}

// Handler exposes the router, mainly for tests.
func (server *Server) Handler() http.Handler {
	return server.echo
}

// Run starts the server and blocks until ctx is canceled, then shuts down gracefully.
// The notify callback receives the bound address once the listener is active.
func (server *Server) Run(ctx context.Context, notify func(string)) error {
	listener, listenErr := net.Listen("tcp", server.config.Address)
	if listenErr != nil {
		return fmt.Errorf(listenErrorFormat, server.config.Address, listenErr)
	}
	actualAddress := listener.Addr().String()

	httpServer := &http.Server{Handler: server.echo, ReadHeaderTimeout: 10 * time.Second}
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		serveErr := httpServer.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf(serveErrorFormat, serveErr)
		}
		return nil
	})

	server.logger.Info(listeningMessage, zap.String("address", actualAddress))
	if notify != nil {
		notify(actualAddress)
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.config.ShutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) && !errors.Is(shutdownErr, http.ErrServerClosed) {
			return fmt.Errorf(shutdownErrorFormat, shutdownErr)
		}
		return nil
	})

	return group.Wait()
}

func (server *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(echoContext echo.Context) error {
		start := time.Now()
		handlerError := next(echoContext)
		if handlerError != nil {
			echoContext.Error(handlerError)
		}
		server.logger.Info(requestLogMessage,
			zap.String("method", echoContext.Request().Method),
			zap.String("uri", echoContext.Request().RequestURI),
			zap.Int("status", echoContext.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", echoContext.Response().Header().Get(echo.HeaderXRequestID)),
			zap.String("session_id", sessionID(echoContext)),
		)
		return nil
	}
}
