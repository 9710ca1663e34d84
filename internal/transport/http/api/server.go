package apihttp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"canarydesk/internal/canary"
	"canarydesk/internal/execution"
	"canarydesk/internal/logger"
	"canarydesk/internal/runner"
	"canarydesk/internal/venue"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Canary is the orchestrator surface the API drives.
type Canary interface {
	Start(ctx context.Context, mode string) error
	Stop()
	Status() canary.Status
	Reports() []canary.Report
}

// RunnerState returns the active runner's combined state; ok is false when
// no runner is live.
type RunnerState func() (state runner.CombinedState, ok bool)

type QualitySource interface {
	QualityReport() execution.QualityReport
}

type VenueStats interface {
	Stats() []venue.Stats
}

// ReportHistory reads persisted reports; optional.
type ReportHistory interface {
	RecentReports(ctx context.Context, kind string, limit int) ([]canary.Report, error)
}

type ServerConfig struct {
	Addr     string
	Canary   Canary
	Runner   RunnerState
	Quality  QualitySource
	Venues   VenueStats
	History  ReportHistory
	Gatherer prometheus.Gatherer
}

// Server exposes the canary control and query API.
type Server struct {
	addr   string
	router *gin.Engine
	cfg    ServerConfig

	mu      sync.RWMutex
	baseCtx context.Context
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Canary == nil {
		return nil, errors.New("api server requires a canary orchestrator")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: cfg.Addr, router: router, cfg: cfg, baseCtx: context.Background()}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	s.register(router.Group("/api"))
	return s, nil
}

// Handler exposes the router for in-process callers and tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled. Sessions started over the API live
// under ctx, not under the request that started them.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("HTTP: listening addr=%s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) sessionCtx() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.RequestURI(), c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
