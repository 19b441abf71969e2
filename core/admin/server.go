// Package admin serves a small operational HTTP API next to the bot: health,
// runtime counters and read/clear access to conversation state.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/flowbot/core/buildinfo"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/sender"
	"github.com/m3rciful/flowbot/core/telegram/state"
)

// Inspector is the read/clear view of a state machine the server exposes.
// *state.Machine satisfies it.
type Inspector interface {
	Kinds() []state.Kind
	Inspect(ctx context.Context, id int64) (state.Snapshot, bool, error)
	Clear(ctx context.Context, id int64) error
}

// Check reports the health of one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Options configures a Server. Nil sources are omitted from the output.
type Options struct {
	Listen    string
	Inspector Inspector
	Engine    func() dispatch.Stats
	Sender    func() sender.Stats
	Checks    map[string]Check
	// CheckTimeout bounds each health check. Default 2s.
	CheckTimeout time.Duration
}

// Server is the admin HTTP server.
type Server struct {
	opts    Options
	engine  *gin.Engine
	http    *http.Server
	started time.Time

	mu   sync.Mutex
	addr string
}

// New builds the router. Start binds the listener.
func New(opts Options) *Server {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}
	if logger.L.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{opts: opts, engine: gin.New(), started: time.Now()}
	s.engine.Use(recovery(), requestLog())
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/stats", s.stats)
	s.engine.GET("/states", s.kinds)
	s.engine.GET("/states/:id", s.inspect)
	s.engine.DELETE("/states/:id", s.clear)

	s.http = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		logger.LogEvent(ctx, logger.ADMIN, slog.LevelError, "admin.start",
			slog.String("status", "fail"),
			slog.String("listen", s.opts.Listen),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("admin: listen %s: %w", s.opts.Listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogEvent(context.Background(), logger.ADMIN, slog.LevelError, "admin.serve",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}()
	logger.LogEvent(ctx, logger.ADMIN, slog.LevelInfo, "admin.start",
		slog.String("status", "ok"),
		slog.String("listen", s.addr),
	)
	return nil
}

// Stop shuts the server down, waiting at most 5s for open requests.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		logger.LogEvent(ctx, logger.ADMIN, slog.LevelWarn, "admin.stop",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	logger.LogEvent(ctx, logger.ADMIN, slog.LevelInfo, "admin.stop", slog.String("status", "ok"))
	return nil
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	names := make([]string, 0, len(s.opts.Checks))
	for name := range s.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	results := make([]checkResult, 0, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.CheckTimeout)
		err := s.opts.Checks[name](ctx)
		cancel()
		res := checkResult{Name: name, Status: "healthy"}
		if err != nil {
			res.Status = "unhealthy"
			res.Error = err.Error()
			status = "unhealthy"
		}
		results = append(results, res)
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"components": results,
	})
}

func (s *Server) stats(c *gin.Context) {
	out := gin.H{
		"instance_id": logger.InstanceID(),
		"uptime_s":    int64(time.Since(s.started).Seconds()),
		"build":       buildinfo.Get(),
	}
	if s.opts.Engine != nil {
		out["dispatch"] = s.opts.Engine()
	}
	if s.opts.Sender != nil {
		out["sender"] = s.opts.Sender()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) kinds(c *gin.Context) {
	if s.opts.Inspector == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "state inspection disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kinds": s.opts.Inspector.Kinds()})
}

func (s *Server) inspect(c *gin.Context) {
	id, ok := s.correspondent(c)
	if !ok {
		return
	}
	snap, found, err := s.opts.Inspector.Inspect(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no state"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) clear(c *gin.Context) {
	id, ok := s.correspondent(c)
	if !ok {
		return
	}
	if err := s.opts.Inspector.Clear(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.LogEvent(c.Request.Context(), logger.ADMIN, slog.LevelInfo, "state.clear",
		slog.Int64("correspondent_id", id),
	)
	c.Status(http.StatusNoContent)
}

func (s *Server) correspondent(c *gin.Context) (int64, bool) {
	if s.opts.Inspector == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "state inspection disabled"})
		return 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid correspondent id"})
		return 0, false
	}
	return id, true
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.LogEvent(c.Request.Context(), logger.ADMIN, slog.LevelError, "admin.panic",
					slog.String("err", fmt.Sprintf("%v", r)),
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "admin", "admin.request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("http_code", c.Writer.Status()),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
	}
}
