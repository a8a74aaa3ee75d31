// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package catalog

import (
	"reflect"
	"sort"
	"sync"

	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/upstream"
)

// Diff describes a catalog version bump (spec.md §4.C4 subscribe).
type Diff struct {
	Added    []Key
	Removed  []Key
	Modified []Key
}

// IsEmpty reports whether nothing changed.
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Listener is notified on every version bump.
type Listener func(oldVersion, newVersion int, diff Diff)

type subscription struct {
	id       int
	listener Listener
}

// Catalog is the Tool Catalog (spec.md §4.C4): a projection of
// (upstream, tool) onto EffectiveToolDescriptor, recomputed whenever the
// Upstream Supervisor reports a tool-list change or the Settings Store's
// tool overlay changes. Single-writer, read-mostly, grounded on the
// teacher's config.Container atomic-snapshot-plus-subscriber shape.
type Catalog struct {
	store *config.Store
	sup   *upstream.Supervisor
	log   logging.LogService

	mu      sync.RWMutex
	version int
	entries map[Key]EffectiveToolDescriptor

	subMu     sync.Mutex
	subs      []subscription
	nextSubID int

	storeSubID int
}

// New builds a Catalog. Call Start to begin tracking changes.
func New(store *config.Store, sup *upstream.Supervisor, log logging.LogService) *Catalog {
	if log == nil {
		log = logging.NewNoop()
	}
	return &Catalog{
		store:   store,
		sup:     sup,
		log:     log,
		entries: make(map[Key]EffectiveToolDescriptor),
	}
}

// Start performs the initial projection and subscribes to upstream and
// settings changes.
func (c *Catalog) Start() {
	c.recompute()
	c.sup.OnToolsChanged(func(string) { c.recompute() })
	c.storeSubID = c.store.Subscribe(func(diff config.SettingsDiff, _ config.Settings) {
		if len(diff.ModifiedUpstreams) > 0 || len(diff.AddedUpstreams) > 0 || len(diff.RemovedUpstreams) > 0 {
			c.recompute()
		}
	})
}

// Stop unsubscribes from the Settings Store. The Supervisor's listener list
// has no remove primitive (it is process-lifetime); this is acceptable
// because the catalog is itself process-lifetime.
func (c *Catalog) Stop() {
	c.store.Unsubscribe(c.storeSubID)
}

// List returns every descriptor, ordered by (upstreamName, toolName) for
// stable tools/list output (spec.md §4.C4).
func (c *Catalog) List() []EffectiveToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]EffectiveToolDescriptor, 0, len(c.entries))
	for _, d := range c.entries {
		out = append(out, d)
	}
	sortDescriptors(out)
	return out
}

// ListByUpstream returns the descriptors for one upstream, same ordering.
func (c *Catalog) ListByUpstream(name string) []EffectiveToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]EffectiveToolDescriptor, 0)
	for _, d := range c.entries {
		if d.UpstreamName == name {
			out = append(out, d)
		}
	}
	sortDescriptors(out)
	return out
}

// Get looks up one descriptor by key.
func (c *Catalog) Get(key Key) (EffectiveToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[key]
	return d, ok
}

// Version returns the current catalog version.
func (c *Catalog) Version() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Subscribe registers a Listener, invoked synchronously after every version
// bump (never on a no-op recompute, per spec.md §4.C4 "Merely refreshing an
// unchanged list does not bump").
func (c *Catalog) Subscribe(l Listener) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscription{id: id, listener: l})
	return id
}

// Unsubscribe removes a previously registered Listener.
func (c *Catalog) Unsubscribe(token int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for i, s := range c.subs {
		if s.id == token {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

func (c *Catalog) recompute() {
	settings := c.store.Snapshot()
	runtimes := c.sup.Snapshot()

	overlays := make(map[string]map[string]config.ToolOverlay, len(settings.Upstreams))
	for _, u := range settings.Upstreams {
		overlays[u.Name] = u.Tools
	}

	desired := make(map[Key]EffectiveToolDescriptor)
	for upstreamName, rt := range runtimes {
		overlay := overlays[upstreamName]
		for _, t := range rt.Tools {
			ov, hasOverlay := overlay[t.Name]
			desc := t.Description
			enabled := true
			if hasOverlay {
				enabled = ov.IsEnabled()
				if ov.DescriptionOverride != "" {
					desc = ov.DescriptionOverride
				}
			}
			key := Key{UpstreamName: upstreamName, ToolName: t.Name}
			desired[key] = EffectiveToolDescriptor{
				UpstreamName:  upstreamName,
				ToolName:      t.Name,
				EffectiveName: t.Name,
				Description:   desc,
				InputSchema:   t.InputSchema,
				Enabled:       enabled,
			}
		}
	}

	c.mu.Lock()
	diff := diffEntries(c.entries, desired)
	if diff.IsEmpty() {
		c.mu.Unlock()
		return
	}
	oldVersion := c.version
	c.version++
	newVersion := c.version
	c.entries = desired
	c.mu.Unlock()

	c.notify(oldVersion, newVersion, diff)
}

func (c *Catalog) notify(oldVersion, newVersion int, diff Diff) {
	c.subMu.Lock()
	listeners := make([]Listener, len(c.subs))
	for i, s := range c.subs {
		listeners[i] = s.listener
	}
	c.subMu.Unlock()

	for _, l := range listeners {
		l(oldVersion, newVersion, diff)
	}
}

func diffEntries(old, new map[Key]EffectiveToolDescriptor) Diff {
	var d Diff
	for k, nv := range new {
		ov, existed := old[k]
		if !existed {
			d.Added = append(d.Added, k)
			continue
		}
		if !reflect.DeepEqual(ov, nv) {
			d.Modified = append(d.Modified, k)
		}
	}
	for k := range old {
		if _, still := new[k]; !still {
			d.Removed = append(d.Removed, k)
		}
	}
	return d
}

func sortDescriptors(in []EffectiveToolDescriptor) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].UpstreamName != in[j].UpstreamName {
			return in[i].UpstreamName < in[j].UpstreamName
		}
		return in[i].ToolName < in[j].ToolName
	})
}
