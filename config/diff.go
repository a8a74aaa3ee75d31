// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package config

import "encoding/json"

// SettingsDiff is carried on every settings-changed event broadcast by the
// Store (spec.md §4.C1 mutate: "broadcasts a settings-changed event carrying
// the diff").
type SettingsDiff struct {
	AddedUpstreams    []string
	RemovedUpstreams  []string
	ModifiedUpstreams []string
	AddedGroups       []string
	RemovedGroups     []string
	ModifiedGroups    []string
	FlagsChanged      bool
}

// IsEmpty reports whether the diff represents no change at all, the concrete
// mechanism behind "reconciling settings with the same content is a no-op"
// (spec.md §8 Idempotence).
func (d SettingsDiff) IsEmpty() bool {
	return len(d.AddedUpstreams) == 0 &&
		len(d.RemovedUpstreams) == 0 &&
		len(d.ModifiedUpstreams) == 0 &&
		len(d.AddedGroups) == 0 &&
		len(d.RemovedGroups) == 0 &&
		len(d.ModifiedGroups) == 0 &&
		!d.FlagsChanged
}

func diffSettings(oldS, newS *Settings) SettingsDiff {
	var d SettingsDiff

	oldUp := indexUpstreams(oldS)
	newUp := indexUpstreams(newS)

	for name, spec := range newUp {
		old, existed := oldUp[name]
		if !existed {
			d.AddedUpstreams = append(d.AddedUpstreams, name)
			continue
		}
		if !upstreamEqual(old, spec) {
			d.ModifiedUpstreams = append(d.ModifiedUpstreams, name)
		}
	}
	for name := range oldUp {
		if _, still := newUp[name]; !still {
			d.RemovedUpstreams = append(d.RemovedUpstreams, name)
		}
	}

	oldGroups := indexGroups(oldS)
	newGroups := indexGroups(newS)

	for id, g := range newGroups {
		old, existed := oldGroups[id]
		if !existed {
			d.AddedGroups = append(d.AddedGroups, id)
			continue
		}
		if !groupEqual(old, g) {
			d.ModifiedGroups = append(d.ModifiedGroups, id)
		}
	}
	for id := range oldGroups {
		if _, still := newGroups[id]; !still {
			d.RemovedGroups = append(d.RemovedGroups, id)
		}
	}

	if oldS == nil && newS != nil {
		d.FlagsChanged = true
	} else if oldS != nil && newS != nil {
		d.FlagsChanged = !flagsEqual(oldS.Flags, newS.Flags)
	}

	return d
}

func indexUpstreams(s *Settings) map[string]UpstreamSpec {
	out := map[string]UpstreamSpec{}
	if s == nil {
		return out
	}
	for _, u := range s.Upstreams {
		out[u.Name] = u
	}
	return out
}

func indexGroups(s *Settings) map[string]Group {
	out := map[string]Group{}
	if s == nil {
		return out
	}
	for _, g := range s.Groups {
		out[g.ID] = g
	}
	return out
}

func upstreamEqual(a, b UpstreamSpec) bool {
	aj, aerr := marshalCanonical(a)
	bj, berr := marshalCanonical(b)
	if aerr != nil || berr != nil {
		return false
	}
	return aj == bj
}

func groupEqual(a, b Group) bool {
	aj, aerr := marshalCanonical(a)
	bj, berr := marshalCanonical(b)
	if aerr != nil || berr != nil {
		return false
	}
	return aj == bj
}

func flagsEqual(a, b SystemFlags) bool {
	aj, aerr := marshalCanonical(a)
	bj, berr := marshalCanonical(b)
	if aerr != nil || berr != nil {
		return false
	}
	return aj == bj
}

func marshalCanonical(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
