// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package config

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSnapshotIsImmutable(t *testing.T) {
	s := NewStore(nil, NoopPersister{}, nil)

	snap := s.Snapshot()
	snap.Upstreams = append(snap.Upstreams, UpstreamSpec{Name: "mutated-locally"})

	require.Empty(t, s.Snapshot().Upstreams, "mutating a returned snapshot must not affect the store")
}

func TestMutateAddUpstreamBumpsDiffAndNotifies(t *testing.T) {
	s := NewStore(nil, NoopPersister{}, nil)

	var got SettingsDiff
	calls := 0
	s.Subscribe(func(diff SettingsDiff, _ Settings) {
		calls++
		got = diff
	})

	_, err := s.Mutate(func(cfg *Settings) error {
		cfg.Upstreams = append(cfg.Upstreams, UpstreamSpec{
			Name:    "echo",
			Kind:    KindStdio,
			Enabled: true,
			Stdio:   &StdioParams{Command: "/bin/cat"},
		})
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, []string{"echo"}, got.AddedUpstreams)
	require.Empty(t, got.RemovedUpstreams)
	require.Empty(t, got.ModifiedUpstreams)

	require.Len(t, s.Snapshot().Upstreams, 1)
}

func TestMutateSameContentIsNoop(t *testing.T) {
	s := NewStore(nil, NoopPersister{}, nil)

	add := func(cfg *Settings) error {
		cfg.Upstreams = []UpstreamSpec{{Name: "echo", Kind: KindStdio, Enabled: true, Stdio: &StdioParams{Command: "/bin/cat"}}}
		return nil
	}
	_, err := s.Mutate(add)
	require.NoError(t, err)

	calls := 0
	s.Subscribe(func(SettingsDiff, Settings) { calls++ })

	diff, err := s.Mutate(add)
	require.NoError(t, err)
	require.True(t, diff.IsEmpty())
	require.Equal(t, 0, calls, "reconciling identical settings must not notify subscribers")
}

func TestMutateRejectedLeavesStateUntouched(t *testing.T) {
	s := NewStore(nil, NoopPersister{}, nil)

	_, err := s.Mutate(func(cfg *Settings) error {
		cfg.Upstreams = append(cfg.Upstreams, UpstreamSpec{Name: "good", Kind: KindStdio, Enabled: true})
		return nil
	})
	require.NoError(t, err)

	_, err = s.Mutate(func(cfg *Settings) error {
		cfg.Upstreams = nil
		return fmt.Errorf("stdio upstream missing command")
	})
	require.Error(t, err)

	require.Len(t, s.Snapshot().Upstreams, 1, "a rejected mutation must leave the previous snapshot intact")
}

func TestMutateIsSerialized(t *testing.T) {
	s := NewStore(nil, NoopPersister{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Mutate(func(cfg *Settings) error {
				cfg.Upstreams = append(cfg.Upstreams, UpstreamSpec{Name: fmt.Sprintf("u-%d", n), Kind: KindStdio, Enabled: true})
				return nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, s.Snapshot().Upstreams, 50)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := NewStore(nil, NoopPersister{}, nil)

	calls := 0
	token := s.Subscribe(func(SettingsDiff, Settings) { calls++ })
	s.Unsubscribe(token)

	_, err := s.Mutate(func(cfg *Settings) error {
		cfg.Upstreams = append(cfg.Upstreams, UpstreamSpec{Name: "echo", Kind: KindStdio, Enabled: true})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
}

func TestPersistFailureDoesNotRollBack(t *testing.T) {
	s := NewStore(nil, failingPersister{}, nil)

	_, err := s.Mutate(func(cfg *Settings) error {
		cfg.Upstreams = append(cfg.Upstreams, UpstreamSpec{Name: "echo", Kind: KindStdio, Enabled: true})
		return nil
	})

	require.NoError(t, err, "a persist failure must not be reported as a mutation failure")
	require.Len(t, s.Snapshot().Upstreams, 1, "in-memory state must remain authoritative despite a persist failure")
}

type failingPersister struct{}

func (failingPersister) Persist(Settings) error   { return fmt.Errorf("disk full") }
func (failingPersister) Load() (*Settings, error) { return nil, nil }
