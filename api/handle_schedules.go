package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/fly-apps/machine-scheduler/internal/machine"
	"github.com/go-chi/chi"
)

type AddScheduleResponse struct {
	Schedule *cron.Schedule `json:"schedule"`
	// Dormant is set when no next run could be computed.
	Dormant bool `json:"dormant"`
}

type ToggleResponse struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	renderResult(w, s.Schedules.List(time.Now().UTC()), http.StatusOK)
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	var in cron.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		loggerFrom(r.Context()).WithError(err).Error("failed to decode schedule request")
		renderErr(w, fmt.Errorf("%w: malformed request body: %s", cron.ErrValidation, err))
		return
	}
	defer func() { _ = r.Body.Close() }()

	if err := validateProfile(in.MachineProfile); err != nil {
		renderErr(w, err)
		return
	}

	sch, err := s.Schedules.Add(r.Context(), in)
	if err != nil {
		loggerFrom(r.Context()).WithError(err).Warn("failed to add schedule")
		renderErr(w, err)
		return
	}

	renderResult(w, AddScheduleResponse{Schedule: sch, Dormant: sch.NextRun == nil}, http.StatusCreated)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sch, ok := s.Schedules.Get(id)
	if !ok {
		renderErr(w, fmt.Errorf("schedule %s: %w", id, cron.ErrNotFound))
		return
	}
	renderResult(w, sch, http.StatusOK)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Schedules.Delete(r.Context(), id) {
		renderErr(w, fmt.Errorf("schedule %s: %w", id, cron.ErrNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	enabled, ok := s.Schedules.Toggle(r.Context(), id)
	if !ok {
		renderErr(w, fmt.Errorf("schedule %s: %w", id, cron.ErrNotFound))
		return
	}
	renderResult(w, ToggleResponse{ID: id, Enabled: enabled}, http.StatusOK)
}

func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.Scheduler.Trigger(r.Context(), id)
	if err != nil {
		loggerFrom(r.Context()).WithError(err).WithField("schedule-id", id).Warn("failed to trigger schedule")
		renderErr(w, err)
		return
	}
	renderResult(w, out, http.StatusOK)
}

// validateProfile rejects machine profiles the controller cannot apply.
func validateProfile(profile string) error {
	if profile == "" {
		return nil
	}
	if _, err := machine.GuestForProfile(profile); err != nil {
		return fmt.Errorf("%w: %s", cron.ErrValidation, err)
	}
	return nil
}
