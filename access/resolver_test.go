// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package access

import (
	"testing"

	"github.com/mcphub/hub/auth"
	"github.com/mcphub/hub/config"
	"github.com/stretchr/testify/require"
)

func testSettings() config.Settings {
	return config.Settings{
		Upstreams: []config.UpstreamSpec{
			{Name: "wiki", Enabled: true},
			{Name: "jira", Enabled: true, Owner: "alice"},
			{Name: "disabled-tool", Enabled: false},
		},
		Groups: []config.Group{
			{
				ID:   "g1",
				Name: "docs",
				Servers: []config.GroupServer{
					{UpstreamName: "wiki", SelectedTools: []string{"search"}},
					{UpstreamName: "jira"},
				},
			},
			{
				ID:      "g2",
				Name:    "private",
				Owner:   "alice",
				Servers: []config.GroupServer{{UpstreamName: "jira"}},
			},
		},
		Flags: config.SystemFlags{
			RoutingAllowGlobal:   true,
			SmartRoutingEnabled:  true,
		},
	}
}

func admin() auth.Principal    { return auth.Principal{ID: "admin", IsAdmin: true} }
func alice() auth.Principal    { return auth.Principal{ID: "alice"} }
func anonymous() auth.Principal { return auth.Principal{ID: "bob"} }

func TestResolveUpstreamScope(t *testing.T) {
	settings := testSettings()

	res := Resolve("wiki", anonymous(), settings)
	require.Len(t, res.Upstreams, 1)
	require.Equal(t, "wiki", res.Upstreams[0].UpstreamName)
	require.True(t, res.Upstreams[0].Allowed.All)
	require.False(t, res.IsSmart)

	// owned upstream hidden from non-owner, non-admin.
	res = Resolve("jira", anonymous(), settings)
	require.Empty(t, res.Upstreams)

	res = Resolve("jira", alice(), settings)
	require.Len(t, res.Upstreams, 1)

	res = Resolve("jira", admin(), settings)
	require.Len(t, res.Upstreams, 1)

	// disabled upstream never resolves regardless of principal.
	res = Resolve("disabled-tool", admin(), settings)
	require.Empty(t, res.Upstreams)
}

func TestResolveGroupScope(t *testing.T) {
	settings := testSettings()

	res := Resolve("docs", alice(), settings)
	require.Len(t, res.Upstreams, 2)
	require.Equal(t, "jira", res.Upstreams[0].UpstreamName)
	require.True(t, res.Upstreams[0].Allowed.All)
	require.Equal(t, "wiki", res.Upstreams[1].UpstreamName)
	require.False(t, res.Upstreams[1].Allowed.All)
	require.True(t, res.Upstreams[1].Allowed.Allows("search"))
	require.False(t, res.Upstreams[1].Allowed.Allows("other"))

	// resolving by group id works identically to group name.
	res2 := Resolve("g1", alice(), settings)
	require.Equal(t, res.Upstreams, res2.Upstreams)

	// owned group invisible to non-owner, non-admin.
	res = Resolve("private", anonymous(), settings)
	require.Empty(t, res.Upstreams)

	res = Resolve("private", alice(), settings)
	require.Len(t, res.Upstreams, 1)
}

func TestResolveGlobalScope(t *testing.T) {
	settings := testSettings()

	res := Resolve("", anonymous(), settings)
	require.Len(t, res.Upstreams, 1)
	require.Equal(t, "wiki", res.Upstreams[0].UpstreamName)

	res = Resolve("", alice(), settings)
	require.Len(t, res.Upstreams, 2)

	settings.Flags.RoutingAllowGlobal = false
	res = Resolve("", anonymous(), settings)
	require.Empty(t, res.Upstreams)

	res = Resolve("", admin(), settings)
	require.Len(t, res.Upstreams, 2)
}

func TestResolveDefaultGroupAppliesWhenScopeUnspecified(t *testing.T) {
	settings := testSettings()
	settings.Flags.RoutingDefaultGroup = "docs"

	res := Resolve("", anonymous(), settings)
	require.Len(t, res.Upstreams, 1)
	require.False(t, res.IsSmart)
}

func TestResolveSmartScope(t *testing.T) {
	settings := testSettings()

	res := Resolve(config.SmartScopeName, anonymous(), settings)
	require.True(t, res.IsSmart)
	require.Len(t, res.Upstreams, 1)

	res = Resolve(config.SmartScopeName, alice(), settings)
	require.Len(t, res.Upstreams, 2)

	settings.Flags.SmartRoutingEnabled = false
	res = Resolve(config.SmartScopeName, admin(), settings)
	require.Empty(t, res.Upstreams)
	require.False(t, res.IsSmart)
}

func TestResolveUnknownScopeIsEmpty(t *testing.T) {
	settings := testSettings()
	res := Resolve("does-not-exist", admin(), settings)
	require.Empty(t, res.Upstreams)
	require.False(t, res.IsSmart)
}
