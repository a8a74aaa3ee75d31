// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package catalog implements the Tool Catalog (spec.md §4.C4): the
// in-memory projection (upstreamName, toolName) → EffectiveToolDescriptor,
// refreshed whenever the Upstream Supervisor reports new tools and
// whenever the Settings Store's tool overlay changes. It is grounded on
// the teacher's config.Container single-writer/subscriber pattern
// generalized from "one Config document" to "one projected descriptor
// set", and on the aggregation/merge shape of
// other_examples/stacklok-toolhive__aggregator.go's
// AggregatedCapabilities/ResolvedTool.
package catalog

// EffectiveToolDescriptor is one tool as exposed to downstream clients,
// after the upstream-spec tool overlay has been applied (spec.md §3).
type EffectiveToolDescriptor struct {
	UpstreamName  string
	ToolName      string
	EffectiveName string
	Description   string
	InputSchema   map[string]any
	Enabled       bool
}

// Key identifies one descriptor within the catalog.
type Key struct {
	UpstreamName string
	ToolName     string
}
