// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package upstream

import (
	"context"
	"net/http"

	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/transport"
)

// SetTransportFactoryForTest swaps the transport.Client factory used by
// every actor for the lifetime of a test, returning a func that restores
// the real transport.New. Exported so dependent packages (catalog, access,
// router) can drive a Supervisor against a fake Client in their own tests
// without spawning real upstream connections.
func SetTransportFactoryForTest(factory func(ctx context.Context, spec config.UpstreamSpec, log logging.LogService, httpClient *http.Client) (transport.Client, error)) func() {
	old := newTransportClient
	newTransportClient = factory
	return func() { newTransportClient = old }
}
