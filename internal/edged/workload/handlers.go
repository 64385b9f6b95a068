package workload

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/edged/internal/logger"
)

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okBody(map[string]any{
		"modules": len(m.Modules()),
	}))
}

// handleDevice tells a module which device it runs on. Modules use this
// instead of trusting their own environment, which the operator can
// override.
func (m *Manager) handleDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okBody(m.device))
}

// handleTrustBundle serves the PEM CA bundle modules should trust for
// upstream connections. The bundle is read per request so a rotated
// file is picked up without restarting anything.
func (m *Manager) handleTrustBundle(w http.ResponseWriter, r *http.Request) {
	path := m.settings.Trust.BundlePath
	if path == "" {
		writeJSON(w, http.StatusNotFound, errorBody("no trust bundle configured"))
		return
	}

	bundle, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("trust bundle unreadable", logger.Path(path), logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("trust bundle unavailable"))
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bundle)
}

// handleToken issues an API token to a registered module. Unknown
// modules get a 404: the runtime has never announced them, so nothing
// should be asking on their behalf.
func (m *Manager) handleToken(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if !m.Registered(name) {
		writeJSON(w, http.StatusNotFound,
			errorBody(fmt.Sprintf("module %q is not registered", name)))
		return
	}

	token, err := m.tokens.Issue(name)
	if err != nil {
		logger.Error("token issuance failed", logger.Module(name), logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to issue token"))
		return
	}

	writeJSON(w, http.StatusOK, okBody(token))
}
