// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package api is the hub's HTTP surface (spec.md §6 External Interfaces): it
// exposes the downstream MCP transports (SSE, streamable-HTTP), a settings
// admin endpoint, health, and Prometheus scraping, over one gin.Engine.
// Grounded on the teacher's api/api.go (API struct of service collaborators,
// gin.Default()+middleware-chain construction, ServeMetrics delegating to a
// cached http.Handler) generalized from a Mattermost-plugin HTTP surface to a
// standalone one: ServeHTTP/ServeMetrics are no longer invoked per-request by
// a plugin host, so the gin.Engine is built once in New rather than on every
// call.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mcphub/hub/auth"
	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/metrics"
	"github.com/mcphub/hub/router"
	"github.com/mcphub/hub/session"
	"github.com/mcphub/hub/upstream"
)

// API assembles every collaborator the HTTP surface dispatches into, and
// owns the gin.Engine that routes requests to them.
type API struct {
	store    *config.Store
	sup      *upstream.Supervisor
	sessions *session.Manager
	router   *router.Router

	authctx        auth.AuthContext
	metricsService metrics.Metrics
	metricsHandler http.Handler

	log logging.LogService

	mcp *mcpHandlers

	engine *gin.Engine
}

// New builds the API and its gin.Engine. rt also implements
// session.ToolLister and is passed to every session.Manager.Create call the
// HTTP handlers make.
func New(
	store *config.Store,
	sup *upstream.Supervisor,
	sessions *session.Manager,
	rt *router.Router,
	authctx auth.AuthContext,
	metricsService metrics.Metrics,
	log logging.LogService,
) *API {
	a := &API{
		store:          store,
		sup:            sup,
		sessions:       sessions,
		router:         rt,
		authctx:        authctx,
		metricsService: metricsService,
		metricsHandler: metrics.NewHandler(metricsService, log),
		log:            log,
	}
	a.mcp = newMCPHandlers(a)
	a.engine = a.newEngine()
	return a
}

// ServeHTTP lets API itself be mounted as an http.Handler (e.g. behind
// http.Server or httptest.Server).
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.engine.ServeHTTP(w, r)
}

func (a *API) newEngine() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), a.ginLogger, a.metricsMiddleware)

	e.GET("/healthz", a.handleHealthz)
	e.GET("/metrics", a.handleMetrics)

	a.registerAdmin(e.Group("/admin"))
	a.mcp.register(e.Group("/"))

	principal := e.Group("/:principal")
	a.registerAdmin(principal.Group("/admin"))
	a.mcp.register(principal)

	return e
}

// ginLogger mirrors the teacher's ginlogger: one structured line per
// request, after the handler chain runs so the status code is known.
func (a *API) ginLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	a.log.Debug("http request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"elapsedMs", time.Since(start).Milliseconds(),
	)
}

// metricsMiddleware mirrors the teacher's api.metricsMiddleware: count every
// request, count non-2xx responses, and observe handler latency by name.
func (a *API) metricsMiddleware(c *gin.Context) {
	start := time.Now()
	a.metricsService.IncrementHTTPRequests()

	c.Next()

	status := c.Writer.Status()
	if status >= http.StatusBadRequest {
		a.metricsService.IncrementHTTPErrors()
	}
	a.metricsService.ObserveAPIEndpointDuration(c.HandlerName(), c.Request.Method, strconv.Itoa(status), time.Since(start).Seconds())
}

func (a *API) handleMetrics(c *gin.Context) {
	a.metricsHandler.ServeHTTP(c.Writer, c.Request)
}

type healthzResponse struct {
	Status           string         `json:"status"`
	ActiveSessions   int            `json:"activeSessions"`
	UpstreamsByState map[string]int `json:"upstreamsByState"`
}

func (a *API) handleHealthz(c *gin.Context) {
	byState := map[string]int{}
	for _, rt := range a.sup.Snapshot() {
		byState[string(rt.State)]++
	}
	c.JSON(http.StatusOK, healthzResponse{
		Status:           "ok",
		ActiveSessions:   a.sessions.Count(),
		UpstreamsByState: byState,
	})
}
