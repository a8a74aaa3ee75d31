// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcphub/hub/config"
)

// registerAdmin wires the settings endpoints onto g, used for both the
// top-level /admin group and the /:principal/admin variant.
func (a *API) registerAdmin(g *gin.RouterGroup) {
	g.Use(a.adminRequired)
	g.GET("/settings", a.handleGetSettings)
	g.POST("/settings", a.handlePutSettings)
}

// adminRequired mirrors the teacher's mattermostAdminAuthorizationRequired:
// resolve the caller's Principal and reject non-admins, generalized from a
// Mattermost system-admin permission check to auth.Principal.IsAdmin.
func (a *API) adminRequired(c *gin.Context) {
	principal, err := a.mcp.resolvePrincipal(c)
	if err != nil {
		c.AbortWithError(http.StatusUnauthorized, err)
		return
	}
	if !principal.IsAdmin {
		c.AbortWithError(http.StatusForbidden, errors.New("must be an admin principal"))
		return
	}
}

// handleGetSettings returns the current settings document.
func (a *API) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, a.store.Snapshot())
}

// handlePutSettings replaces the settings document wholesale, mirroring the
// teacher's reindex-job endpoints' switch-on-error-string response mapping,
// generalized to the Settings Store's Mutate contract (spec.md §4.C1/§7:
// rejected configuration never reaches downstream clients).
func (a *API) handlePutSettings(c *gin.Context) {
	var incoming config.Settings
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ConfigurationError: " + err.Error()})
		return
	}

	diff, err := a.store.Mutate(func(s *config.Settings) error {
		*s = incoming
		return nil
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ConfigurationError: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, diff)
}
