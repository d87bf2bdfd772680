// Package httpapi is the read-only statistics HTTP plugin: an external
// collaborator per the core's own non-goals, exposing the daemon's and its
// mediators' state as JSON (plus, optionally, the Prometheus /metrics
// surface internal/statsexport registers). Grounded directly on
// loykin-provisr's internal/server package (router.go, util.go): the same
// gin.New()+gin.Recovery() router shape, the same basePath sanitizing and
// writeJSON helper, generalized from "start/stop/status a named managed
// process" to "read a daemon's and its mediators' current snapshot" —
// this plugin never mutates daemon state, matching the core's design that
// treats it as a thin, unauthenticated, read-only collaborator (the
// teacher's own internal/auth has no equivalent here for exactly that
// reason).
package httpapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/mediator"
	"github.com/loykin/daemonkit/internal/scheduler"
	"github.com/loykin/daemonkit/internal/statsexport"
)

// Router exposes read-only introspection endpoints for one Daemon.
type Router struct {
	daemon           *scheduler.Daemon
	basePath         string
	enablePrometheus bool
}

// NewRouter constructs a Router over daemon. basePath may be empty or
// start with '/'; enablePrometheus mounts /metrics using
// internal/statsexport's already-registered collectors (the caller is
// responsible for having called statsexport.Register beforehand).
func NewRouter(daemon *scheduler.Daemon, basePath string, enablePrometheus bool) *Router {
	return &Router{daemon: daemon, basePath: sanitizeBase(basePath), enablePrometheus: enablePrometheus}
}

// Handler builds the gin engine serving this Router's endpoints.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/stats", r.handleStats)
	group.GET("/healthz", r.handleHealthz)
	if r.enablePrometheus {
		g.GET("/metrics", gin.WrapH(statsexport.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr serving this Router.
// Timeouts mirror the teacher's own NewServer: short read/write bounds
// appropriate for a small introspection API, not a data-plane service.
func NewServer(addr, basePath string, daemon *scheduler.Daemon, enablePrometheus bool) *http.Server {
	r := NewRouter(daemon, basePath, enablePrometheus)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type healthResp struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
	PID   int    `json:"pid"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{OK: true, State: r.daemon.State().String()})
}

type recentCallResp struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Status string `json:"status"`
	Err    string `json:"err,omitempty"`
}

type mediatorStatsResp struct {
	mediator.StatsSnapshot
	Recent []recentCallResp `json:"recent"`
}

type statsResp struct {
	State     string                       `json:"state"`
	Mediators map[string]mediatorStatsResp `json:"mediators"`
	Dispatch  map[string]int64             `json:"dispatch_counts"`
}

// handleStats reads each registered mediator's guarded Stats() snapshot
// directly, rather than publishing a mediator.StatsEvent on the eventbus:
// the bus is driven only from the scheduler's main loop, and this handler
// runs on a gin request goroutine, so a Publish call here would violate
// that single-publisher contract. It folds in each mediator's own Recent()
// history and the scheduler's per-event dispatch counters.
func (r *Router) handleStats(c *gin.Context) {
	meds := r.daemon.Mediators()
	event := &mediator.StatsEvent{Mediators: make(map[string]mediator.StatsSnapshot, len(meds))}
	for alias, m := range meds {
		event.Mediators[alias] = m.Stats()
	}
	statsexport.Observe(event)

	out := statsResp{
		State:     r.daemon.State().String(),
		Mediators: make(map[string]mediatorStatsResp, len(event.Mediators)),
		Dispatch:  make(map[string]int64, len(meds)),
	}
	for alias, snap := range event.Mediators {
		var recent []recentCallResp
		if m, ok := meds[alias]; ok {
			for _, rc := range m.Recent() {
				recent = append(recent, recentCallResp{ID: rc.ID, Method: rc.Method, Status: rc.Status.String(), Err: rc.Err})
			}
		}
		out.Mediators[alias] = mediatorStatsResp{StatsSnapshot: snap, Recent: recent}
	}
	for _, name := range []eventbus.Name{
		eventbus.Init, eventbus.Idle, eventbus.Fork, eventbus.PreExecute, eventbus.PostExecute,
		eventbus.AutoRestart, eventbus.Signal, eventbus.Shutdown, eventbus.Error, eventbus.Stats, eventbus.Reaped,
	} {
		out.Dispatch[string(name)] = r.daemon.DispatchCount(name)
	}
	writeJSON(c, http.StatusOK, out)
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(filepath.Clean(bp), "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
