// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/switchboard/pkg/apierror"
)

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":            g.version,
		"uptime_seconds":     int64(time.Since(g.started).Seconds()),
		"gateways":           Gateways(),
		"disabled_providers": g.engine.DisabledProviders(),
	}
	if g.creds != nil {
		// Expiry and staleness only; never token material.
		status["auth_cache"] = g.creds.CacheStatus()
	}
	writeJSON(w, http.StatusOK, status)
}

func (g *Gateway) handleClearAuthCache(w http.ResponseWriter, r *http.Request) {
	if g.creds == nil {
		writeError(w, apierror.New(apierror.CodeValidation, "no credential store configured"))
		return
	}
	g.creds.ClearCache()
	g.logger.Info("credential cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (g *Gateway) handleDisableProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, apierror.New(apierror.CodeValidation, "provider id is required"))
		return
	}
	g.engine.TemporarilyDisableProvider(id)
	g.logger.Info("provider disabled", "provider", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":           id,
		"disabled":           true,
		"disabled_providers": g.engine.DisabledProviders(),
	})
}

func (g *Gateway) handleEnableProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, apierror.New(apierror.CodeValidation, "provider id is required"))
		return
	}
	g.engine.EnableProvider(id)
	g.logger.Info("provider enabled", "provider", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":           id,
		"disabled":           false,
		"disabled_providers": g.engine.DisabledProviders(),
	})
}
