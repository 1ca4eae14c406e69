package session

import (
	"sync"
	"time"
)

// AlertWindow is how long a raised alert stays visible.
const AlertWindow = 3 * time.Second

// Alert is the bad-posture warning flag. Once raised it clears itself after
// its window on a timer goroutine, so frame processing never waits on it.
type Alert struct {
	mu      sync.Mutex
	window  time.Duration
	visible bool
	timer   *time.Timer
	gen     uint64
}

// NewAlert returns a hidden alert with the given visibility window.
func NewAlert(window time.Duration) *Alert {
	if window <= 0 {
		window = AlertWindow
	}
	return &Alert{window: window}
}

// Raise shows the alert and restarts its visibility window.
func (a *Alert) Raise() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.visible = true
	a.gen++
	gen := a.gen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.window, func() { a.dismiss(gen) })
}

// Visible reports whether the alert is currently shown.
func (a *Alert) Visible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visible
}

// Stop hides the alert and cancels any pending dismissal.
func (a *Alert) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gen++
	a.visible = false
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Alert) dismiss(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// a newer Raise or Stop owns the flag now
	if gen != a.gen {
		return
	}
	a.visible = false
	a.timer = nil
}
