package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/alfred/internal/backend"
	"github.com/loykin/alfred/internal/bridge"
	"github.com/loykin/alfred/internal/history"
	"github.com/loykin/alfred/internal/metrics"
	"github.com/loykin/alfred/internal/relay"
	"github.com/loykin/alfred/internal/supervisor"
)

// Router exposes the bridge over HTTP.
// Endpoints:
//
//	GET  {basePath}/status               current supervision snapshot
//	POST {basePath}/check                make sure the backend is running and ready
//	POST {basePath}/restart              full stop, then start again
//	POST {basePath}/stop                 stop supervision
//	GET  {basePath}/events               SSE stream of notification and status events
//	POST {basePath}/backend              proxy {method,path,headers,body} to the backend
//	GET  {basePath}/backend/resources    latest CPU/RSS sample of the backend process
//	GET  {basePath}/supervision/history  recent lifecycle events (limit=N)
//	GET  {basePath}/metrics              Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	bridge    *bridge.Bridge
	basePath  string
	history   *history.Recorder
	metrics   http.Handler
	resources func() metrics.ResourceSample
	keepAlive time.Duration
	logger    *slog.Logger
}

type Option func(*Router)

// WithHistory serves recorded supervision events.
func WithHistory(r *history.Recorder) Option { return func(rt *Router) { rt.history = r } }

// WithMetrics mounts a Prometheus handler at /metrics.
func WithMetrics(h http.Handler) Option { return func(rt *Router) { rt.metrics = h } }

// WithResources serves the latest backend resource sample.
func WithResources(fn func() metrics.ResourceSample) Option {
	return func(rt *Router) { rt.resources = fn }
}

// WithKeepAlive sets the interval of SSE ping events.
func WithKeepAlive(d time.Duration) Option { return func(rt *Router) { rt.keepAlive = d } }

func WithLogger(l *slog.Logger) Option { return func(rt *Router) { rt.logger = l } }

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(b *bridge.Bridge, basePath string, opts ...Option) *Router {
	r := &Router{bridge: b, basePath: normalizeBase(basePath), keepAlive: 15 * time.Second, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/check", r.handleCheck)
	group.POST("/restart", r.handleRestart)
	group.POST("/stop", r.handleStop)
	group.GET("/events", r.handleEvents)
	group.POST("/backend", r.handleBackend)
	group.GET("/backend/resources", r.handleResources)
	group.GET("/supervision/history", r.handleHistory)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer builds an HTTP server for addr using this router. The caller runs
// ListenAndServe and Shutdown. There is no write timeout: queries can take
// minutes and the event stream is long-lived.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// snapshotResp carries the supervision state plus the error of the action, if any.
type snapshotResp struct {
	supervisor.Snapshot
	Error string `json:"error,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	r.writeJSON(c, http.StatusOK, snapshotResp{Snapshot: r.bridge.Status()})
}

func (r *Router) handleCheck(c *gin.Context) {
	snap, err := r.bridge.CheckServer(c.Request.Context())
	r.writeAction(c, snap, err)
}

func (r *Router) handleRestart(c *gin.Context) {
	snap, err := r.bridge.RestartBackend(c.Request.Context())
	r.writeAction(c, snap, err)
}

func (r *Router) handleStop(c *gin.Context) {
	r.writeJSON(c, http.StatusOK, snapshotResp{Snapshot: r.bridge.StopBackend(c.Request.Context())})
}

func (r *Router) writeAction(c *gin.Context, snap supervisor.Snapshot, err error) {
	if err == nil {
		r.writeJSON(c, http.StatusOK, snapshotResp{Snapshot: snap})
		return
	}
	code := http.StatusServiceUnavailable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = http.StatusGatewayTimeout
	}
	r.writeJSON(c, code, snapshotResp{Snapshot: snap, Error: err.Error()})
}

func (r *Router) handleEvents(c *gin.Context) {
	events, unsubscribe := r.bridge.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	ping := time.NewTicker(r.keepAlive)
	defer ping.Stop()
	ctx := c.Request.Context()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ping.C:
			c.SSEvent("ping", strconv.FormatInt(time.Now().Unix(), 10))
			return true
		case ev, ok := <-events:
			if !ok {
				return false
			}
			switch ev.Type {
			case relay.EventNotification:
				c.SSEvent(string(ev.Type), ev.Notification)
			case relay.EventStatus:
				c.SSEvent(string(ev.Type), ev.Status)
			}
			return true
		}
	})
}

func (r *Router) handleBackend(c *gin.Context) {
	var req backend.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		r.writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	resp, err := r.bridge.Request(c.Request.Context(), req)
	if errors.Is(err, bridge.ErrInvalidPath) {
		r.writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		r.logger.Warn("proxied backend request failed", "method", req.Method, "path", req.Path, "error", err)
		r.writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	r.writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleResources(c *gin.Context) {
	if r.resources == nil {
		r.writeJSON(c, http.StatusNotFound, errorResp{Error: "resource sampling disabled"})
		return
	}
	r.writeJSON(c, http.StatusOK, r.resources())
}

type historyResp struct {
	Events []history.Event `json:"events"`
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			r.writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, 1000)
	}
	events, ok, err := r.history.List(c.Request.Context(), limit)
	if !ok {
		r.writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not readable from the configured sink"})
		return
	}
	if err != nil {
		r.writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	r.writeJSON(c, http.StatusOK, historyResp{Events: events})
}
