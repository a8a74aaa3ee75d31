// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcphub/hub/logging"
)

// errorLogAdapter satisfies promhttp.HandlerOpts.ErrorLog via the hub's own
// LogService, the same adapter role the teacher's ErrorLoggerWrapper plays
// over logrus.
type errorLogAdapter struct {
	log logging.LogService
}

func (a errorLogAdapter) Println(v ...any) {
	a.log.Warn("metrics scrape error", "detail", fmt.Sprint(v...))
}

// NewHandler builds the /metrics scrape endpoint for m.
func NewHandler(m Metrics, log logging.LogService) http.Handler {
	return promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{
		ErrorLog: errorLogAdapter{log: log},
	})
}
