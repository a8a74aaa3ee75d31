// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package upstream implements the Upstream Supervisor (spec.md §4.C3): one
// UpstreamRuntime per declared UpstreamSpec, reconciled against the
// Settings Store, connected through a transport.Client. The per-upstream
// reconcile-declared-list-against-live-list shape is grounded on the
// teacher's bots.MMBots.EnsureBots/UpdateBotsCache; the per-entity
// cancellation and state-machine shape is grounded on the teacher's
// streaming.MMPostStreamService.
package upstream

import (
	"time"

	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/transport"
)

// State is one of the Upstream Runtime states (spec.md §4.C3).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateDegraded     State = "degraded"
	StateClosed       State = "closed"
)

// Runtime is an immutable snapshot of one UpstreamRuntime, safe to share
// freely (spec.md §3 "UpstreamRuntime").
type Runtime struct {
	Spec                config.UpstreamSpec
	State               State
	ServerInfo          transport.ServerInfo
	Tools               []transport.ToolDescriptor
	LastError           error
	ConsecutiveFailures int
	NextRetryAt         time.Time
}

// IsReady reports whether the runtime can currently serve tools/call.
func (r Runtime) IsReady() bool { return r.State == StateReady }
