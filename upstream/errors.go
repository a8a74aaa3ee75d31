// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package upstream

import "errors"

// Error taxonomy for the supervisor, per spec.md §7.
var (
	ErrUnknownUpstream     = errors.New("unknown upstream")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream call timed out")
	ErrUpstreamProtocolError = errors.New("upstream returned malformed mcp")
)
