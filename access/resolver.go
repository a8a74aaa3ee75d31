// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package access implements the Group & Access Resolver (spec.md §4.C6): a
// pure, deterministic function from (scope, principal, Settings) to the
// ordered list of upstreams a request may reach and which of their tools
// are allowed. It is grounded on the teacher's bots.CheckUsageRestrictions
// family (switch over an access-level enum, visibility/ownership checks
// against a config-declared list) generalized from bot-usage restriction to
// upstream/group visibility.
package access

import (
	"sort"

	"github.com/mcphub/hub/auth"
	"github.com/mcphub/hub/config"
)

// AllowedTools is either "every enabled tool" (All) or an explicit set.
type AllowedTools struct {
	All bool
	Set map[string]bool
}

// Allows reports whether toolName is permitted.
func (a AllowedTools) Allows(toolName string) bool {
	if a.All {
		return true
	}
	return a.Set[toolName]
}

func allTools() AllowedTools { return AllowedTools{All: true} }

func selectedTools(names []string) AllowedTools {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return AllowedTools{Set: set}
}

// ResolvedUpstream is one reachable upstream in a Resolution.
type ResolvedUpstream struct {
	UpstreamName string
	Allowed      AllowedTools
}

// Resolution is the resolver's output (spec.md §4.C6).
type Resolution struct {
	Upstreams []ResolvedUpstream
	IsSmart   bool
}

// Resolve implements spec.md §4.C6's scope rules. rawScope is the URL
// segment as received (empty string for "unspecified").
func Resolve(rawScope string, principal auth.Principal, settings config.Settings) Resolution {
	scope := rawScope
	if scope == "" && settings.Flags.RoutingDefaultGroup != "" {
		scope = settings.Flags.RoutingDefaultGroup
	}

	switch {
	case scope == "":
		return resolveGlobal(principal, settings)
	case scope == config.SmartScopeName:
		return resolveSmart(principal, settings)
	default:
		if u, ok := findUpstream(settings, scope); ok {
			return resolveUpstream(principal, u)
		}
		if g, ok := findGroup(settings, scope); ok {
			return resolveGroup(principal, settings, g)
		}
		return Resolution{}
	}
}

func resolveGlobal(principal auth.Principal, settings config.Settings) Resolution {
	if !settings.Flags.RoutingAllowGlobal && !principal.IsAdmin {
		return Resolution{}
	}
	var out []ResolvedUpstream
	for _, u := range settings.Upstreams {
		if u.Enabled && canSeeUpstream(principal, u) {
			out = append(out, ResolvedUpstream{UpstreamName: u.Name, Allowed: allTools()})
		}
	}
	sortResolved(out)
	return Resolution{Upstreams: out}
}

func resolveSmart(principal auth.Principal, settings config.Settings) Resolution {
	if !settings.Flags.SmartRoutingEnabled {
		return Resolution{}
	}
	var out []ResolvedUpstream
	for _, u := range settings.Upstreams {
		if u.Enabled && canSeeUpstream(principal, u) {
			out = append(out, ResolvedUpstream{UpstreamName: u.Name, Allowed: allTools()})
		}
	}
	sortResolved(out)
	return Resolution{Upstreams: out, IsSmart: true}
}

func resolveUpstream(principal auth.Principal, u config.UpstreamSpec) Resolution {
	if !u.Enabled || !canSeeUpstream(principal, u) {
		return Resolution{}
	}
	return Resolution{Upstreams: []ResolvedUpstream{{UpstreamName: u.Name, Allowed: allTools()}}}
}

func resolveGroup(principal auth.Principal, settings config.Settings, g config.Group) Resolution {
	if !canSeeGroup(principal, g) {
		return Resolution{}
	}

	byName := make(map[string]config.UpstreamSpec, len(settings.Upstreams))
	for _, u := range settings.Upstreams {
		byName[u.Name] = u
	}

	var out []ResolvedUpstream
	for _, member := range g.Servers {
		u, ok := byName[member.UpstreamName]
		if !ok || !u.Enabled || !canSeeUpstream(principal, u) {
			continue
		}
		allowed := allTools()
		if len(member.SelectedTools) > 0 {
			allowed = selectedTools(member.SelectedTools)
		}
		out = append(out, ResolvedUpstream{UpstreamName: u.Name, Allowed: allowed})
	}
	sortResolved(out)
	return Resolution{Upstreams: out}
}

func canSeeUpstream(principal auth.Principal, u config.UpstreamSpec) bool {
	return principal.IsAdmin || u.Owner == "" || u.Owner == principal.ID
}

func canSeeGroup(principal auth.Principal, g config.Group) bool {
	return principal.IsAdmin || g.Owner == "" || g.Owner == principal.ID
}

func findUpstream(settings config.Settings, name string) (config.UpstreamSpec, bool) {
	for _, u := range settings.Upstreams {
		if u.Name == name {
			return u, true
		}
	}
	return config.UpstreamSpec{}, false
}

func findGroup(settings config.Settings, idOrName string) (config.Group, bool) {
	for _, g := range settings.Groups {
		if g.ID == idOrName || g.Name == idOrName {
			return g, true
		}
	}
	return config.Group{}, false
}

func sortResolved(in []ResolvedUpstream) {
	sort.Slice(in, func(i, j int) bool { return in[i].UpstreamName < in[j].UpstreamName })
}
