// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Noop is a no-operation Metrics implementation for tests and deployments
// that don't scrape Prometheus.
type Noop struct{}

// NewNoop creates a new Noop metrics collector.
func NewNoop() Metrics { return Noop{} }

func (Noop) GetRegistry() *prometheus.Registry { return prometheus.NewRegistry() }

func (Noop) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsedSeconds float64) {}
func (Noop) IncrementHTTPRequests()                                                                {}
func (Noop) IncrementHTTPErrors()                                                                  {}

func (Noop) SetUpstreamState(upstreamName, state string)                               {}
func (Noop) ObserveUpstreamCallDuration(upstreamName, toolName string, elapsed float64) {}
func (Noop) IncrementUpstreamCallErrors(upstreamName string)                            {}

func (Noop) SetCatalogVersion(float64)   {}
func (Noop) SetCatalogToolCount(float64) {}

func (Noop) SetActiveSessions(float64)       {}
func (Noop) IncrementSessionsOpened()        {}
func (Noop) IncrementSessionsClosed()        {}
func (Noop) IncrementToolListNotifications() {}

func (Noop) ObserveEmbeddingSearchDuration(float64) {}
func (Noop) IncrementEmbedderCalls(outcome string)  {}
