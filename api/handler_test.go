package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type stubMachine struct {
	mu     sync.Mutex
	status cron.Status
	calls  []string
}

func (m *stubMachine) Start(ctx context.Context, profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "start")
	m.status = cron.StatusRunning
	return nil
}

func (m *stubMachine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop")
	m.status = cron.StatusStopped
	return nil
}

func (m *stubMachine) Status(ctx context.Context) (cron.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *stubMachine) Uptime(ctx context.Context) (string, error) {
	return "up 5 minutes", nil
}

func (m *stubMachine) Run(ctx context.Context, command string, timeout time.Duration) cron.CommandResult {
	return cron.CommandResult{Success: true}
}

func newTestServer(t *testing.T) (*httptest.Server, *stubMachine) {
	t.Helper()
	ctx := context.Background()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store, err := cron.InitializeStore(ctx, filepath.Join(t.TempDir(), "state.db"), log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	auditor := cron.NewStoreAuditor(store, log)
	m := &stubMachine{status: cron.StatusStopped}
	executor := cron.NewExecutor(m, m, auditor, log, cron.ExecutorOptions{CommandTimeout: time.Minute})
	t.Cleanup(executor.Close)

	schedules, err := cron.NewScheduleStore(ctx, store, auditor, log)
	if err != nil {
		t.Fatal(err)
	}
	autoRestart, err := cron.NewAutoRestarter(ctx, store, executor, auditor, log)
	if err != nil {
		t.Fatal(err)
	}
	scheduler := cron.NewScheduler(schedules, autoRestart, executor, auditor, log, time.Minute)

	s := &Server{
		Schedules:   schedules,
		Scheduler:   scheduler,
		AutoRestart: autoRestart,
		Executor:    executor,
		Events:      store,
		Logger:      log,
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, m
}

func doRequest(t *testing.T, method, url, body string, out interface{}) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.NewDecoder(bytes.NewReader(b)).Decode(out); err != nil {
			t.Fatalf("failed to decode %q: %v", b, err)
		}
	}
	return resp.StatusCode
}

type scheduleEnvelope struct {
	Result AddScheduleResponse `json:"result"`
	Error  string              `json:"error"`
}

func TestScheduleEndpoints(t *testing.T) {
	srv, m := newTestServer(t)

	var added scheduleEnvelope
	code := doRequest(t, http.MethodPost, srv.URL+"/schedules/", `{
		"name": "nightly",
		"action": "restart",
		"schedule_type": "daily",
		"time": "03:00",
		"timezone": "Europe/Berlin"
	}`, &added)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", code, added.Error)
	}
	sch := added.Result.Schedule
	if sch == nil || sch.ID == "" || sch.NextRun == nil || added.Result.Dormant {
		t.Fatalf("unexpected add response %+v", added.Result)
	}

	var list struct {
		Result []cron.ScheduleView `json:"result"`
	}
	if code := doRequest(t, http.MethodGet, srv.URL+"/schedules/", "", &list); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(list.Result) != 1 || list.Result[0].ID != sch.ID || list.Result[0].CountdownSeconds == nil {
		t.Fatalf("unexpected schedule list %+v", list.Result)
	}

	var toggled struct {
		Result ToggleResponse `json:"result"`
	}
	if code := doRequest(t, http.MethodPost, srv.URL+"/schedules/"+sch.ID+"/toggle", "", &toggled); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if diff := cmp.Diff(ToggleResponse{ID: sch.ID, Enabled: false}, toggled.Result); diff != "" {
		t.Errorf("unexpected toggle response (-want +got):\n%s", diff)
	}

	var triggered struct {
		Result cron.Outcome `json:"result"`
	}
	if code := doRequest(t, http.MethodPost, srv.URL+"/schedules/"+sch.ID+"/trigger", "", &triggered); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !triggered.Result.Success {
		t.Fatalf("expected trigger to succeed, got %+v", triggered.Result)
	}
	m.mu.Lock()
	calls := append([]string(nil), m.calls...)
	m.mu.Unlock()
	if diff := cmp.Diff([]string{"stop", "start"}, calls); diff != "" {
		t.Errorf("unexpected machine calls (-want +got):\n%s", diff)
	}

	if code := doRequest(t, http.MethodDelete, srv.URL+"/schedules/"+sch.ID, "", nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}

	var missing errRes
	if code := doRequest(t, http.MethodGet, srv.URL+"/schedules/"+sch.ID, "", &missing); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := doRequest(t, http.MethodPost, srv.URL+"/schedules/"+sch.ID+"/toggle", "", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := doRequest(t, http.MethodPost, srv.URL+"/schedules/"+sch.ID+"/trigger", "", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestAddScheduleRejectsInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"name":`},
		{name: "missing timezone", body: `{"action": "start", "schedule_type": "daily", "time": "09:00"}`},
		{name: "unknown action", body: `{"action": "pause", "schedule_type": "daily", "time": "09:00", "timezone": "UTC"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var res errRes
			if code := doRequest(t, http.MethodPost, srv.URL+"/schedules/", tc.body, &res); code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", code)
			}
			if res.Error == "" {
				t.Fatal("expected an error message")
			}
		})
	}

	var list struct {
		Result []cron.ScheduleView `json:"result"`
	}
	doRequest(t, http.MethodGet, srv.URL+"/schedules/", "", &list)
	if len(list.Result) != 0 {
		t.Fatalf("rejected schedules were stored: %+v", list.Result)
	}
}

func TestAddDormantSchedule(t *testing.T) {
	srv, _ := newTestServer(t)

	var added scheduleEnvelope
	code := doRequest(t, http.MethodPost, srv.URL+"/schedules/", `{
		"action": "start",
		"schedule_type": "daily",
		"time": "09:00",
		"timezone": "Atlantis/Capital"
	}`, &added)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if !added.Result.Dormant || added.Result.Schedule.NextRun != nil {
		t.Fatalf("expected a dormant schedule, got %+v", added.Result)
	}

	var events struct {
		Result []cron.Event `json:"result"`
	}
	doRequest(t, http.MethodGet, srv.URL+"/events?limit=10", "", &events)
	var found bool
	for _, ev := range events.Result {
		if ev.Type == "schedule_next_run_error" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a schedule_next_run_error event, got %+v", events.Result)
	}
}

func TestAutoRestartEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var cfg struct {
		Result cron.AutoRestartConfig `json:"result"`
	}
	if code := doRequest(t, http.MethodGet, srv.URL+"/auto-restart/config", "", &cfg); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if diff := cmp.Diff(cron.DefaultAutoRestartConfig(), cfg.Result); diff != "" {
		t.Errorf("unexpected default config (-want +got):\n%s", diff)
	}

	code := doRequest(t, http.MethodPost, srv.URL+"/auto-restart/config", `{
		"enabled": true,
		"method": "uptime",
		"uptime_threshold": "1 day 2 hours",
		"post_restart_commands": ["systemctl restart app"]
	}`, &cfg)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	want := cron.DefaultAutoRestartConfig()
	want.Enabled = true
	want.Method = cron.MethodUptime
	want.UptimeThreshold = "1 day 2 hours"
	want.PostRestartCommands = cron.StringList{"systemctl restart app"}
	if diff := cmp.Diff(want, cfg.Result); diff != "" {
		t.Errorf("unexpected updated config (-want +got):\n%s", diff)
	}

	var res errRes
	if code := doRequest(t, http.MethodPost, srv.URL+"/auto-restart/config", `{"method": "hourly"}`, &res); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}

	var history struct {
		Result []cron.AutoRestartHistoryEntry `json:"result"`
	}
	if code := doRequest(t, http.MethodGet, srv.URL+"/auto-restart/history", "", &history); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(history.Result) != 0 {
		t.Fatalf("expected empty history, got %+v", history.Result)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var status struct {
		Result StatusResponse `json:"result"`
	}
	if code := doRequest(t, http.MethodGet, srv.URL+"/status", "", &status); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	want := StatusResponse{Status: cron.StatusStopped}
	if diff := cmp.Diff(want, status.Result); diff != "" {
		t.Errorf("unexpected status (-want +got):\n%s", diff)
	}
}

func TestMachineProfiles(t *testing.T) {
	srv, _ := newTestServer(t)

	var profiles struct {
		Result []string `json:"result"`
	}
	if code := doRequest(t, http.MethodGet, srv.URL+"/profiles", "", &profiles); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(profiles.Result) == 0 {
		t.Fatal("expected known profiles")
	}

	var res errRes
	code := doRequest(t, http.MethodPost, srv.URL+"/schedules/", `{
		"action": "start",
		"schedule_type": "daily",
		"time": "09:00",
		"timezone": "UTC",
		"machine_profile": "gpu-a100-huge"
	}`, &res)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}

	if code := doRequest(t, http.MethodPost, srv.URL+"/auto-restart/config", `{"machine_profile": "tiny"}`, &res); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}
