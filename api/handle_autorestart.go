package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fly-apps/machine-scheduler/internal/cron"
)

const defaultHistoryLimit = 20

func (s *Server) handleGetAutoRestart(w http.ResponseWriter, r *http.Request) {
	renderResult(w, s.AutoRestart.Config(), http.StatusOK)
}

func (s *Server) handleUpdateAutoRestart(w http.ResponseWriter, r *http.Request) {
	var u cron.AutoRestartUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		loggerFrom(r.Context()).WithError(err).Error("failed to decode auto-restart request")
		renderErr(w, fmt.Errorf("%w: malformed request body: %s", cron.ErrValidation, err))
		return
	}
	defer func() { _ = r.Body.Close() }()

	if u.MachineProfile != nil {
		if err := validateProfile(*u.MachineProfile); err != nil {
			renderErr(w, err)
			return
		}
	}

	cfg, err := s.AutoRestart.Update(r.Context(), u)
	if err != nil {
		renderErr(w, err)
		return
	}
	renderResult(w, cfg, http.StatusOK)
}

func (s *Server) handleAutoRestartHistory(w http.ResponseWriter, r *http.Request) {
	renderResult(w, s.AutoRestart.History(queryLimit(r, defaultHistoryLimit)), http.StatusOK)
}
