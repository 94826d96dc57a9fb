package whispr

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default display durations per toast type.
const (
	ToastDurationSuccess = 4 * time.Second
	ToastDurationError   = 6 * time.Second
	ToastDurationWarning = 5 * time.Second
	ToastDurationInfo    = 4 * time.Second
)

// ToastDispatcher owns the queue of ephemeral on-screen alerts. Alerts
// expire on their own timers; none of this state survives the process.
type ToastDispatcher struct {
	mu     sync.Mutex
	alerts []ToastAlert
	timers map[string]*time.Timer

	obsMu     sync.Mutex
	nextObsID int
	observers map[int]func([]ToastAlert)
}

// NewToastDispatcher creates an empty dispatcher.
func NewToastDispatcher() *ToastDispatcher {
	return &ToastDispatcher{
		timers:    make(map[string]*time.Timer),
		observers: make(map[int]func([]ToastAlert)),
	}
}

// Notify enqueues an alert and returns its id. Missing ids are generated;
// a zero Duration makes the alert sticky until removed explicitly.
func (td *ToastDispatcher) Notify(alert ToastAlert) string {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	td.mu.Lock()
	td.alerts = append(td.alerts, alert)
	if alert.Duration > 0 {
		id := alert.ID
		td.timers[id] = time.AfterFunc(alert.Duration, func() {
			td.Remove(id)
		})
	}
	td.mu.Unlock()

	td.notifyObservers()
	return alert.ID
}

// Success enqueues a success alert with the default duration.
func (td *ToastDispatcher) Success(title, message string) string {
	return td.Notify(ToastAlert{Type: ToastSuccess, Title: title, Message: message, Duration: ToastDurationSuccess})
}

// Error enqueues an error alert with the default duration.
func (td *ToastDispatcher) Error(title, message string) string {
	return td.Notify(ToastAlert{Type: ToastError, Title: title, Message: message, Duration: ToastDurationError})
}

// Warning enqueues a warning alert with the default duration.
func (td *ToastDispatcher) Warning(title, message string) string {
	return td.Notify(ToastAlert{Type: ToastWarning, Title: title, Message: message, Duration: ToastDurationWarning})
}

// Info enqueues an info alert with the default duration.
func (td *ToastDispatcher) Info(title, message string) string {
	return td.Notify(ToastAlert{Type: ToastInfo, Title: title, Message: message, Duration: ToastDurationInfo})
}

// Remove dismisses a single alert. Removing an unknown id is a no-op.
func (td *ToastDispatcher) Remove(id string) {
	td.mu.Lock()
	if t, ok := td.timers[id]; ok {
		t.Stop()
		delete(td.timers, id)
	}
	kept := td.alerts[:0]
	removed := false
	for _, a := range td.alerts {
		if a.ID == id {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	td.alerts = kept
	td.mu.Unlock()

	if removed {
		td.notifyObservers()
	}
}

// ClearAll dismisses every queued alert and stops their timers.
func (td *ToastDispatcher) ClearAll() {
	td.mu.Lock()
	for id, t := range td.timers {
		t.Stop()
		delete(td.timers, id)
	}
	had := len(td.alerts) > 0
	td.alerts = nil
	td.mu.Unlock()

	if had {
		td.notifyObservers()
	}
}

// Alerts returns a copy of the current queue, oldest first.
func (td *ToastDispatcher) Alerts() []ToastAlert {
	td.mu.Lock()
	defer td.mu.Unlock()
	out := make([]ToastAlert, len(td.alerts))
	copy(out, td.alerts)
	return out
}

// OnChange registers an observer invoked with the queue after every change.
func (td *ToastDispatcher) OnChange(f func([]ToastAlert)) Unsubscribe {
	td.obsMu.Lock()
	td.nextObsID++
	id := td.nextObsID
	td.observers[id] = f
	td.obsMu.Unlock()
	return func() {
		td.obsMu.Lock()
		delete(td.observers, id)
		td.obsMu.Unlock()
	}
}

func (td *ToastDispatcher) notifyObservers() {
	alerts := td.Alerts()
	td.obsMu.Lock()
	obs := make([]func([]ToastAlert), 0, len(td.observers))
	for _, f := range td.observers {
		obs = append(obs, f)
	}
	td.obsMu.Unlock()
	for _, f := range obs {
		f(alerts)
	}
}
