// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package metrics instruments the hub with Prometheus series, grounded on
// the teacher's server/metrics/metrics.go (namespace/subsystem constants,
// registry-per-instance, ConstLabels carrying install/version identity)
// generalized from plugin/LLM metrics to upstream/session/router metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	Namespace          = "mcphub"
	SubsystemSystem    = "system"
	SubsystemHTTP      = "http"
	SubsystemAPI       = "api"
	SubsystemUpstream  = "upstream"
	SubsystemCatalog   = "catalog"
	SubsystemSession   = "session"
	SubsystemRouter    = "router"
	SubsystemEmbedding = "embedding"

	InstanceInstallationLabel = "installationId"
	InstanceVersionLabel      = "version"
)

// Metrics is the instrumentation surface every component depends on,
// shaped like the teacher's Metrics interface (registry + HTTP duration +
// request/error counters) extended with hub-specific series.
type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveAPIEndpointDuration(handler, method, statusCode string, elapsedSeconds float64)
	IncrementHTTPRequests()
	IncrementHTTPErrors()

	SetUpstreamState(upstreamName, state string)
	ObserveUpstreamCallDuration(upstreamName, toolName string, elapsedSeconds float64)
	IncrementUpstreamCallErrors(upstreamName string)

	SetCatalogVersion(version float64)
	SetCatalogToolCount(count float64)

	SetActiveSessions(count float64)
	IncrementSessionsOpened()
	IncrementSessionsClosed()
	IncrementToolListNotifications()

	ObserveEmbeddingSearchDuration(elapsedSeconds float64)
	IncrementEmbedderCalls(outcome string)
}

// InstanceInfo identifies the running hub process for const labels, mirroring
// the teacher's InstanceInfo/pluginInfo gauge.
type InstanceInfo struct {
	InstallationID string
	Version        string
}

type metrics struct {
	registry *prometheus.Registry

	startTime prometheus.Gauge
	buildInfo prometheus.Gauge

	apiDuration      *prometheus.HistogramVec
	httpRequestsTotal prometheus.Counter
	httpErrorsTotal   prometheus.Counter

	upstreamState        *prometheus.GaugeVec
	upstreamCallDuration *prometheus.HistogramVec
	upstreamCallErrors   *prometheus.CounterVec

	catalogVersion   prometheus.Gauge
	catalogToolCount prometheus.Gauge

	activeSessions           prometheus.Gauge
	sessionsOpenedTotal      prometheus.Counter
	sessionsClosedTotal      prometheus.Counter
	toolListNotificationsTotal prometheus.Counter

	embeddingSearchDuration prometheus.Histogram
	embedderCallsTotal      *prometheus.CounterVec
}

// New builds a Metrics collector registered on a fresh registry.
func New(info InstanceInfo) Metrics {
	m := &metrics{}
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}))
	m.registry.MustRegister(collectors.NewGoCollector())

	labels := map[string]string{}
	if info.InstallationID != "" {
		labels[InstanceInstallationLabel] = info.InstallationID
	}

	m.startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: SubsystemSystem, Name: "start_timestamp_seconds",
		Help: "Time the hub process started.", ConstLabels: labels,
	})
	m.startTime.SetToCurrentTime()
	m.registry.MustRegister(m.startTime)

	m.buildInfo = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: SubsystemSystem, Name: "build_info",
		Help: "Hub build information.",
		ConstLabels: map[string]string{
			InstanceInstallationLabel: info.InstallationID,
			InstanceVersionLabel:      info.Version,
		},
	})
	m.buildInfo.Set(1)
	m.registry.MustRegister(m.buildInfo)

	m.apiDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace, Subsystem: SubsystemAPI, Name: "request_duration_seconds",
		Help: "Time to execute an HTTP API handler.", ConstLabels: labels,
	}, []string{"handler", "method", "status_code"})
	m.registry.MustRegister(m.apiDuration)

	m.httpRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: SubsystemHTTP, Name: "requests_total",
		Help: "Total HTTP requests received.", ConstLabels: labels,
	})
	m.registry.MustRegister(m.httpRequestsTotal)

	m.httpErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: SubsystemHTTP, Name: "errors_total",
		Help: "Total HTTP responses with a 4xx or 5xx status.", ConstLabels: labels,
	})
	m.registry.MustRegister(m.httpErrorsTotal)

	m.upstreamState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: SubsystemUpstream, Name: "state",
		Help: "1 if the upstream is currently in the labeled state, else 0.", ConstLabels: labels,
	}, []string{"upstream", "state"})
	m.registry.MustRegister(m.upstreamState)

	m.upstreamCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace, Subsystem: SubsystemUpstream, Name: "call_duration_seconds",
		Help: "Time to execute a tools/call against an upstream.", ConstLabels: labels,
	}, []string{"upstream", "tool"})
	m.registry.MustRegister(m.upstreamCallDuration)

	m.upstreamCallErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: SubsystemUpstream, Name: "call_errors_total",
		Help: "Total failed tools/call invocations, by upstream.", ConstLabels: labels,
	}, []string{"upstream"})
	m.registry.MustRegister(m.upstreamCallErrors)

	m.catalogVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: SubsystemCatalog, Name: "version",
		Help: "Current tool catalog version.", ConstLabels: labels,
	})
	m.registry.MustRegister(m.catalogVersion)

	m.catalogToolCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: SubsystemCatalog, Name: "tool_count",
		Help: "Current number of enabled tools across all upstreams.", ConstLabels: labels,
	})
	m.registry.MustRegister(m.catalogToolCount)

	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: SubsystemSession, Name: "active",
		Help: "Current number of open downstream sessions.", ConstLabels: labels,
	})
	m.registry.MustRegister(m.activeSessions)

	m.sessionsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: SubsystemSession, Name: "opened_total",
		Help: "Total downstream sessions opened.", ConstLabels: labels,
	})
	m.registry.MustRegister(m.sessionsOpenedTotal)

	m.sessionsClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: SubsystemSession, Name: "closed_total",
		Help: "Total downstream sessions closed (idle timeout or explicit).", ConstLabels: labels,
	})
	m.registry.MustRegister(m.sessionsClosedTotal)

	m.toolListNotificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: SubsystemRouter, Name: "tool_list_notifications_total",
		Help: "Total notifications/tools/list_changed sent to downstream clients.", ConstLabels: labels,
	})
	m.registry.MustRegister(m.toolListNotificationsTotal)

	m.embeddingSearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace, Subsystem: SubsystemEmbedding, Name: "search_duration_seconds",
		Help: "Time to execute a smart-scope search_tools call.", ConstLabels: labels,
	})
	m.registry.MustRegister(m.embeddingSearchDuration)

	m.embedderCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: SubsystemEmbedding, Name: "embedder_calls_total",
		Help: "Total Embedder invocations, by outcome.", ConstLabels: labels,
	}, []string{"outcome"})
	m.registry.MustRegister(m.embedderCallsTotal)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry { return m.registry }

func (m *metrics) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsedSeconds float64) {
	m.apiDuration.With(prometheus.Labels{"handler": handler, "method": method, "status_code": statusCode}).Observe(elapsedSeconds)
}

func (m *metrics) IncrementHTTPRequests() { m.httpRequestsTotal.Inc() }
func (m *metrics) IncrementHTTPErrors()   { m.httpErrorsTotal.Inc() }

func (m *metrics) SetUpstreamState(upstreamName, state string) {
	for _, s := range []string{"disconnected", "connecting", "ready", "degraded", "closed"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.upstreamState.With(prometheus.Labels{"upstream": upstreamName, "state": s}).Set(v)
	}
}

func (m *metrics) ObserveUpstreamCallDuration(upstreamName, toolName string, elapsedSeconds float64) {
	m.upstreamCallDuration.With(prometheus.Labels{"upstream": upstreamName, "tool": toolName}).Observe(elapsedSeconds)
}

func (m *metrics) IncrementUpstreamCallErrors(upstreamName string) {
	m.upstreamCallErrors.With(prometheus.Labels{"upstream": upstreamName}).Inc()
}

func (m *metrics) SetCatalogVersion(version float64)    { m.catalogVersion.Set(version) }
func (m *metrics) SetCatalogToolCount(count float64)    { m.catalogToolCount.Set(count) }
func (m *metrics) SetActiveSessions(count float64)      { m.activeSessions.Set(count) }
func (m *metrics) IncrementSessionsOpened()             { m.sessionsOpenedTotal.Inc() }
func (m *metrics) IncrementSessionsClosed()             { m.sessionsClosedTotal.Inc() }
func (m *metrics) IncrementToolListNotifications()      { m.toolListNotificationsTotal.Inc() }
func (m *metrics) ObserveEmbeddingSearchDuration(s float64) { m.embeddingSearchDuration.Observe(s) }
func (m *metrics) IncrementEmbedderCalls(outcome string) {
	m.embedderCallsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}
