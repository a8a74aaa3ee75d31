// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/auth"
	"github.com/mcphub/hub/catalog"
	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/metrics"
	"github.com/mcphub/hub/router"
	"github.com/mcphub/hub/session"
	"github.com/mcphub/hub/upstream"
)

func newTestAPI(t *testing.T, authctx auth.AuthContext) (*API, *config.Store) {
	t.Helper()

	store := config.NewStore(&config.Settings{Flags: config.DefaultSystemFlags()}, nil, logging.NewNoop())
	sup := upstream.NewSupervisor(store, logging.NewNoop(), http.DefaultClient)
	sup.Start()
	t.Cleanup(sup.Stop)

	cat := catalog.New(store, sup, logging.NewNoop())
	cat.Start()
	t.Cleanup(cat.Stop)

	rt := router.New(store, sup, cat, nil, logging.NewNoop())
	sessions := session.NewManager(logging.NewNoop(), 0)
	sessions.Start()
	t.Cleanup(sessions.Stop)

	return New(store, sup, sessions, rt, authctx, metrics.NewNoop(), logging.NewNoop()), store
}

func TestHealthzReportsOK(t *testing.T) {
	a, _ := newTestAPI(t, auth.Anonymous{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	a.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
}

func TestAdminSettingsRequiresAdminPrincipal(t *testing.T) {
	authctx := auth.Static{
		Principals: map[string]auth.Principal{
			"bob": {ID: "bob", IsAdmin: false},
		},
		Default: auth.Principal{ID: "bob", IsAdmin: false},
	}
	a, _ := newTestAPI(t, authctx)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
	a.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminSettingsRoundTrip(t *testing.T) {
	authctx := auth.Static{Default: auth.Principal{ID: "root", IsAdmin: true}}
	a, store := newTestAPI(t, authctx)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
	a.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got config.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, store.Snapshot().Flags.SmartRoutingEnabled, got.Flags.SmartRoutingEnabled)
}

func TestMCPStreamOpensSessionAndSetsHeader(t *testing.T) {
	a, _ := newTestAPI(t, auth.Anonymous{})

	// The streamable-HTTP handler may hold a GET open as a server-sent
	// stream; a short-lived request context keeps this test deterministic
	// regardless of how long it would otherwise wait for a client.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	a.ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get(sessionIDHeader))
}

func TestMCPDeleteUnknownSessionIsNotFound(t *testing.T) {
	a, _ := newTestAPI(t, auth.Anonymous{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionIDHeader, "does-not-exist")
	a.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrincipalScopedRouteResolvesFromLookupTable(t *testing.T) {
	authctx := auth.Static{
		Principals: map[string]auth.Principal{
			"alice": {ID: "alice", IsAdmin: true},
		},
		Default: auth.Principal{ID: "anonymous"},
	}
	a, _ := newTestAPI(t, authctx)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/alice/admin/settings", nil)
	a.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
