package mgmt

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/edged/internal/edged/watchdog"
	"github.com/marmos91/edged/internal/logger"
)

// moduleInfo is the wire form of a module on the management API.
type moduleInfo struct {
	Name       string    `json:"name"`
	Image      string    `json:"image"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okBody(nil))
}

// handleModules lists every managed module as the runtime reports it,
// sorted by name so repeated calls diff cleanly.
func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	modules, err := s.rt.ListModules(r.Context())
	if err != nil {
		logger.Error("module listing failed", logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list modules"))
		return
	}

	out := make([]moduleInfo, 0, len(modules))
	for _, m := range modules {
		out = append(out, moduleInfo{
			Name:       m.Name,
			Image:      m.Image,
			Status:     string(m.Status),
			ExitCode:   m.ExitCode,
			StartedAt:  m.StartedAt,
			FinishedAt: m.FinishedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	writeJSON(w, http.StatusOK, okBody(out))
}

// handleRestartModule restarts a module in place. A name the runtime
// has never heard of is a 404, not a runtime error.
func (s *Server) handleRestartModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	modules, err := s.rt.ListModules(r.Context())
	if err != nil {
		logger.Error("module listing failed", logger.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list modules"))
		return
	}
	known := false
	for _, m := range modules {
		if m.Name == name {
			known = true
			break
		}
	}
	if !known {
		writeJSON(w, http.StatusNotFound,
			errorBody(fmt.Sprintf("module %q not found", name)))
		return
	}

	if err := s.rt.RestartModule(r.Context(), name); err != nil {
		logger.Error("module restart failed", logger.Module(name), logger.Err(err))
		writeJSON(w, http.StatusInternalServerError,
			errorBody(fmt.Sprintf("failed to restart module %q", name)))
		return
	}

	logger.Info("module restarted on operator request", logger.Module(name))
	writeJSON(w, http.StatusOK, okBody(map[string]string{"module": name}))
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okBody(collectSystemInfo(r.Context(), s.rt)))
}

// handleReprovision schedules a device reprovision. The request is
// acknowledged as soon as the action is queued; the daemon reprovisions
// on its way out, after the module runtime is quiet.
func (s *Server) handleReprovision(w http.ResponseWriter, r *http.Request) {
	if !watchdog.Notify(s.watchdogTx, watchdog.ActionReprovision) {
		// A full channel means a shutdown is already in flight.
		writeJSON(w, http.StatusConflict, errorBody("daemon is already shutting down"))
		return
	}

	logger.Info("device reprovision requested")
	writeJSON(w, http.StatusAccepted, okBody(map[string]string{"state": "scheduled"}))
}
