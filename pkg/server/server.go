// Package server exposes the bridge over HTTP: the websocket media endpoint,
// a health probe and the Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/LingByte/LingMediaBridge/pkg/bridge"
	"github.com/LingByte/LingMediaBridge/pkg/constants"
	apperrors "github.com/LingByte/LingMediaBridge/pkg/errors"
	"github.com/LingByte/LingMediaBridge/pkg/logger"
	"github.com/LingByte/LingMediaBridge/pkg/metrics"
	"github.com/LingByte/LingMediaBridge/pkg/wsconn"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the HTTP surface and every session it accepts
type Options struct {
	Addr      string
	MediaPath string
	Bridge    bridge.Options
	Conn      wsconn.Options

	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer // nil disables /metrics
}

// Server accepts peers and runs one bridge.Session per connection
type Server struct {
	opts      Options
	endpoints bridge.Endpoints
	registry  *Registry
	upgrader  websocket.Upgrader
	router    *gin.Engine
	http      *http.Server

	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(opts Options, endpoints bridge.Endpoints) *Server {
	if opts.MediaPath == "" {
		opts.MediaPath = constants.DefaultMediaPath
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		endpoints: endpoints,
		registry:  NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.GET(s.opts.MediaPath, s.handleMedia)
	r.GET(constants.HealthPath, s.handleHealth)
	if s.opts.Gatherer != nil {
		r.GET(constants.MetricsPath, gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Handler returns the router, for embedding or httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry exposes the live sessions
func (s *Server) Registry() *Registry {
	return s.registry
}

// ListenAndServe blocks until Shutdown or a listener failure
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	logger.Info("media bridge listening",
		zap.String("addr", l.Addr().String()),
		zap.String("path", s.opts.MediaPath),
		zap.String("mode", string(s.opts.Bridge.Mode)))
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting peers, cancels every session and waits for them
// to release their endpoints.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.registry.CancelAll()
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	if werr := s.registry.Wait(ctx); werr != nil {
		logger.Warn("sessions still open at shutdown", zap.Int("sessions", s.registry.Len()))
		return werr
	}
	return err
}

func (s *Server) handleMedia(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		appErr := apperrors.NewAppError(apperrors.ErrCodeUpgradeFailed, "websocket upgrade required")
		s.opts.Metrics.Error(string(appErr.Code))
		c.JSON(appErr.HTTPStatus, gin.H{"code": appErr.Code, "message": appErr.Message})
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already answered the request.
		logger.Warn("websocket upgrade failed", zap.String("peer", c.Request.RemoteAddr), zap.Error(err))
		s.opts.Metrics.Error(string(apperrors.ErrCodeUpgradeFailed))
		return
	}

	conn := wsconn.New(ws, s.opts.Conn)
	session := bridge.NewSession(conn, s.endpoints, s.opts.Bridge, s.opts.Metrics)

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	if !s.registry.Add(session, cancel) {
		logger.Info("server shutting down, peer refused", zap.String("peer", conn.RemoteAddr()))
		_ = conn.Close()
		return
	}
	defer s.registry.Remove(session.ID)

	if err := session.Run(ctx); err != nil && !bridge.IsCanceled(err) {
		logger.Warn("session ended with error",
			zap.String("session", session.ID),
			zap.String("code", string(apperrors.CodeOf(err))),
			zap.Error(err))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"mode":     s.opts.Bridge.Mode,
		"sessions": s.registry.Len(),
	})
}
