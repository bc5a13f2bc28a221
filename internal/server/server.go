// Package server is a minimal content server over the local mirror. It serves
// mirrored files from an in-memory cache and exposes the reboot endpoint that
// the sync engine calls after the mirror changes.
package server

import (
	"context"
	stderrors "errors"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/contentcache"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/reboot"
	"github.com/gin-gonic/gin"
)

const (
	indexFile       = "index.html"
	shutdownTimeout = 5 * time.Second
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Config configures the content server
type Config struct {
	Addr       string
	PassPhrase string
}

// Server serves the mirror over HTTP
type Server struct {
	config Config
	cache  *contentcache.Cache
	logger logging.Logger
	server *http.Server
}

// New creates a server reading through cache
func New(config Config, cache *contentcache.Cache, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	s := &Server{config: config, cache: cache, logger: logger}
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the gin router
func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.accessLog())

	r.GET("/reboot", reboot.Handler(s.config.PassPhrase, s.cache, s.logger))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "cached": s.cache.Len()})
	})
	r.NoRoute(s.serveFile)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Content server listening", logging.F("addr", s.config.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Content server stopping")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) serveFile(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.String(http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	p := c.Request.URL.Path
	if p == "" || strings.HasSuffix(p, "/") {
		p += indexFile
	}

	data, err := s.cache.Get(p)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			c.String(http.StatusNotFound, "404 page not found")
			return
		}
		s.logger.Error("Failed to read mirror file", logging.F("path", p), logging.F("error", err.Error()))
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Data(http.StatusOK, detectContentType(p, data), data)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			logging.F("method", c.Request.Method),
			logging.F("path", c.Request.URL.Path),
			logging.F("status", c.Writer.Status()),
			logging.F("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}

func detectContentType(p string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
