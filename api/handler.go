package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/fly-apps/machine-scheduler/internal/flycheck"
	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"
)

type contextKey int

const loggerKey contextKey = iota

// EventLister reads persisted audit events.
type EventLister interface {
	ListEvents(ctx context.Context, limit int) ([]cron.Event, error)
}

// Server exposes the scheduler services over HTTP.
type Server struct {
	Schedules   *cron.ScheduleStore
	Scheduler   *cron.Scheduler
	AutoRestart *cron.AutoRestarter
	Executor    *cron.Executor
	Events      EventLister
	Logger      *logrus.Logger
}

// StartHttpServer serves h on port until ctx is done.
func StartHttpServer(ctx context.Context, port int, h http.Handler, logger *logrus.Logger) error {
	r := chi.NewMux()
	r.Mount("/", h)

	w := logger.Writer()
	defer w.Close()

	server := &http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%v", port),
		ReadHeaderTimeout: 3 * time.Second,
		ErrorLog:          log.New(w, "", 0),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("api listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	logger := s.Logger

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", WithLogging(s.handleListSchedules, logger))
		r.Post("/", WithLogging(s.handleAddSchedule, logger))
		r.Get("/{id}", WithLogging(s.handleGetSchedule, logger))
		r.Delete("/{id}", WithLogging(s.handleDeleteSchedule, logger))
		r.Post("/{id}/toggle", WithLogging(s.handleToggleSchedule, logger))
		r.Post("/{id}/trigger", WithLogging(s.handleTriggerSchedule, logger))
	})

	r.Route("/auto-restart", func(r chi.Router) {
		r.Get("/config", WithLogging(s.handleGetAutoRestart, logger))
		r.Post("/config", WithLogging(s.handleUpdateAutoRestart, logger))
		r.Get("/history", WithLogging(s.handleAutoRestartHistory, logger))
	})

	r.Get("/events", WithLogging(s.handleListEvents, logger))
	r.Get("/status", WithLogging(s.handleStatus, logger))
	r.Get("/profiles", WithLogging(s.handleListProfiles, logger))

	r.Mount("/flycheck", flycheck.Handler(s.Scheduler, s.Executor))

	return r
}

func WithLogging(h http.HandlerFunc, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), loggerKey, logger)
		h(w, r.WithContext(ctx))
	}
}

func loggerFrom(ctx context.Context) logrus.FieldLogger {
	if l, ok := ctx.Value(loggerKey).(*logrus.Logger); ok && l != nil {
		return l
	}
	return logrus.StandardLogger()
}
