package cron

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

type Severity string

const (
	SeverityEvent     Severity = "event"
	SeverityWarning   Severity = "warning"
	SeverityError     Severity = "error"
	SeverityHeartbeat Severity = "heartbeat"
)

// Event is one audit record.
type Event struct {
	ID        int            `json:"id" db:"id"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	Type      string         `json:"event_type" db:"event_type"`
	Note      string         `json:"note" db:"note"`
	Severity  Severity       `json:"severity" db:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"-"`
}

// Auditor records events. Implementations must not block for long and their
// failures never reach the caller.
type Auditor interface {
	Record(ctx context.Context, ev Event)
}

// StoreAuditor persists events and mirrors them to the log.
type StoreAuditor struct {
	store *Store
	log   *logrus.Logger
}

func NewStoreAuditor(store *Store, log *logrus.Logger) *StoreAuditor {
	return &StoreAuditor{store: store, log: log}
}

func (a *StoreAuditor) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	entry := a.log.WithFields(logrus.Fields{
		"event":    ev.Type,
		"severity": ev.Severity,
	})
	switch ev.Severity {
	case SeverityError:
		entry.Error(ev.Note)
	case SeverityWarning:
		entry.Warn(ev.Note)
	case SeverityHeartbeat:
		entry.Debug(ev.Note)
	default:
		entry.Info(ev.Note)
	}

	if a.store == nil {
		return
	}
	if err := a.store.AppendEvent(ctx, ev); err != nil {
		a.log.WithError(err).Warnf("failed to persist audit event %s", ev.Type)
	}
}

// record shields the caller from a misbehaving auditor.
func record(ctx context.Context, a Auditor, log *logrus.Logger, typ, note string, sev Severity, meta map[string]any) {
	if a == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("audit sink panicked on %s: %v", typ, r)
		}
	}()
	a.Record(ctx, Event{
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Note:      truncate(note, 255),
		Severity:  sev,
		Metadata:  meta,
	})
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
