package api

import (
	"net/http"
	"time"

	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/fly-apps/machine-scheduler/internal/machine"
)

const defaultEventsLimit = 100

type StatusResponse struct {
	Status      cron.Status `json:"status"`
	LastTick    *time.Time  `json:"last_tick"`
	Schedules   int         `json:"schedules"`
	AutoRestart bool        `json:"auto_restart"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res := StatusResponse{
		Status:      s.Executor.Status(r.Context()),
		Schedules:   len(s.Schedules.List(time.Now().UTC())),
		AutoRestart: s.AutoRestart.Config().Enabled,
	}
	if last := s.Scheduler.LastTick(); !last.IsZero() {
		res.LastTick = &last
	}
	renderResult(w, res, http.StatusOK)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.Events.ListEvents(r.Context(), queryLimit(r, defaultEventsLimit))
	if err != nil {
		loggerFrom(r.Context()).WithError(err).Error("failed to list events")
		renderErr(w, err)
		return
	}
	renderResult(w, events, http.StatusOK)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	renderResult(w, machine.Profiles(), http.StatusOK)
}
