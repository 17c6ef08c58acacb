// internal/alerting/alerter.go
package alerting

import (
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/logging"
	"h2-telemetry-gateway/internal/storage"
)

const DefaultCapacity = 500

// Notifier receives every entry appended to the log.
type Notifier interface {
	NotifyAlarm(entry data.AlarmEntry)
}

// AlarmLog is a bounded, most-recent-first log of status transitions into
// warning or danger.
type AlarmLog struct {
	mu        sync.RWMutex
	entries   *storage.Window[data.AlarmEntry]
	notifiers []Notifier
	log       *slog.Logger
}

func NewAlarmLog(capacity int, log *slog.Logger) *AlarmLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &AlarmLog{
		entries: storage.NewWindow[data.AlarmEntry](capacity),
		log:     logging.OrDiscard(log),
	}
}

// AddNotifier registers n for future entries. Call before ingestion starts.
func (a *AlarmLog) AddNotifier(n Notifier) {
	a.mu.Lock()
	a.notifiers = append(a.notifiers, n)
	a.mu.Unlock()
}

// RecordIfTransition appends an entry when the reading moved the sensor into
// an alerting status. Repeated alerting readings are not logged again.
func (a *AlarmLog) RecordIfTransition(state data.SensorState, transitioned bool, r data.Reading) (data.AlarmEntry, bool) {
	if !transitioned || !state.Status.Alerting() {
		return data.AlarmEntry{}, false
	}

	entry := data.AlarmEntry{
		ID:                uuid.NewString(),
		Timestamp:         r.Timestamp,
		SensorID:          state.SensorID,
		SensorDisplayName: state.DisplayName,
		FacilityID:        state.FacilityID,
		Severity:          state.Status,
		TriggeringValue:   r.Value.String(),
	}

	a.mu.Lock()
	a.entries.Push(entry)
	notifiers := slices.Clone(a.notifiers)
	a.mu.Unlock()

	a.log.Warn("alarm",
		slog.String("sensor", entry.SensorID),
		slog.String("severity", string(entry.Severity)),
		slog.String("value", entry.TriggeringValue),
	)
	for _, n := range notifiers {
		n.NotifyAlarm(entry)
	}
	return entry, true
}

// Entries returns the whole log, most recent first.
func (a *AlarmLog) Entries() []data.AlarmEntry {
	return a.Recent(0)
}

// Recent returns up to n entries, most recent first. n <= 0 returns all.
func (a *AlarmLog) Recent(n int) []data.AlarmEntry {
	a.mu.RLock()
	out := a.entries.Recent(n)
	a.mu.RUnlock()
	slices.Reverse(out)
	return out
}

// All iterates a snapshot of the log, most recent first. Each call to the
// returned sequence takes a fresh snapshot.
func (a *AlarmLog) All() iter.Seq[data.AlarmEntry] {
	return func(yield func(data.AlarmEntry) bool) {
		for _, e := range a.Entries() {
			if !yield(e) {
				return
			}
		}
	}
}

func (a *AlarmLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.entries.Len()
}
