// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mcphub/hub/logging"
)

// UpdateListener is notified after every successful mutation, receiving the
// diff and the new snapshot. Listeners run synchronously on the mutating
// goroutine and must not block for long (spec.md §4.C1 subscribe/unsubscribe).
type UpdateListener func(diff SettingsDiff, newSettings Settings)

type subscription struct {
	id       int
	listener UpdateListener
}

// Store is the Settings Store (spec.md §4.C1): the single source of truth
// for configuration, mediating concurrent reads and writes. It is grounded
// on the teacher's config.Container atomic.Pointer[Config] pattern,
// generalized with a write mutex (the teacher had only one mutation call
// site; this hub's mutations are triggered from HTTP handlers and settings
// reconciliation alike, so writes must be serialized explicitly) and a diff
// broadcast in place of a bare callback.
type Store struct {
	cur atomic.Pointer[Settings]

	writeMu sync.Mutex // serializes mutate() calls (spec.md: "writes are serialized")

	subMu     sync.Mutex
	subs      []subscription
	nextSubID int

	persister Persister
	log       logging.LogService
}

// NewStore creates a Store seeded with initial (or its zero value if nil),
// using persister for persist-after-mutate and log for surfacing
// persistence failures.
func NewStore(initial *Settings, persister Persister, log logging.LogService) *Store {
	if persister == nil {
		persister = NoopPersister{}
	}
	if log == nil {
		log = logging.NewNoop()
	}
	s := &Store{persister: persister, log: log}
	seed := Settings{Flags: DefaultSystemFlags()}
	if initial != nil {
		seed = *initial
	}
	clone, err := DeepCopyJSON(seed)
	if err != nil {
		panic(fmt.Sprintf("failed to seed settings store: %v", err))
	}
	s.cur.Store(&clone)
	return s
}

// LoadOrNew builds a Store from whatever the persister has saved, falling
// back to defaults if nothing was saved yet.
func LoadOrNew(persister Persister, log logging.LogService) (*Store, error) {
	loaded, err := persister.Load()
	if err != nil {
		return nil, fmt.Errorf("load persisted settings: %w", err)
	}
	return NewStore(loaded, persister, log), nil
}

// Snapshot returns an immutable view of the current settings. Readers never
// observe torn state because Settings is only ever replaced wholesale via
// an atomic pointer swap, never mutated in place.
func (s *Store) Snapshot() Settings {
	return *s.cur.Load()
}

// Mutate applies fn to a deep copy of the current settings and, if fn
// succeeds, atomically installs the result as the new snapshot and notifies
// subscribers with the computed diff. fn returning an error aborts the
// mutation with no visible effect (the ConfigurationError case of spec.md
// §7: "settings rejected ... never reaches downstream clients directly").
func (s *Store) Mutate(fn func(*Settings) error) (SettingsDiff, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	before := s.cur.Load()
	working, err := DeepCopyJSON(*before)
	if err != nil {
		return SettingsDiff{}, fmt.Errorf("clone settings for mutation: %w", err)
	}

	if err := fn(&working); err != nil {
		return SettingsDiff{}, fmt.Errorf("configuration rejected: %w", err)
	}

	diff := diffSettings(before, &working)
	if diff.IsEmpty() {
		return diff, nil
	}

	final, err := DeepCopyJSON(working)
	if err != nil {
		return SettingsDiff{}, fmt.Errorf("clone settings for install: %w", err)
	}
	s.cur.Store(&final)

	if err := s.persister.Persist(final); err != nil {
		// Persistence failure is logged and surfaced but never rolls back
		// in-memory state (spec.md §4.C1, §7): the last-known-good snapshot
		// (the one we just installed) remains authoritative.
		s.log.Error("failed to persist settings", "error", err)
	}

	s.notify(diff, final)

	return diff, nil
}

// Subscribe registers listener and returns a token to pass to Unsubscribe.
func (s *Store) Subscribe(listener UpdateListener) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscription{id: id, listener: listener})
	return id
}

// Unsubscribe removes a listener previously registered with Subscribe.
func (s *Store) Unsubscribe(token int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subs {
		if sub.id == token {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Store) notify(diff SettingsDiff, newSettings Settings) {
	s.subMu.Lock()
	listeners := make([]UpdateListener, len(s.subs))
	for i, sub := range s.subs {
		listeners[i] = sub.listener
	}
	s.subMu.Unlock()

	for _, l := range listeners {
		l(diff, newSettings)
	}
}

// DeepCopyJSON creates a deep, independent copy of any JSON-serializable
// value, carried from the teacher's config.Container.DeepCopyJSON.
func DeepCopyJSON[T any](src T) (T, error) {
	var dst T
	data, err := json.Marshal(src)
	if err != nil {
		return dst, err
	}
	err = json.Unmarshal(data, &dst)
	return dst, err
}
