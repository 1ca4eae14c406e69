package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for session start and idle checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAlertWindow overrides how long raised alerts stay visible.
func WithAlertWindow(window time.Duration) Option {
	return func(m *Manager) { m.alertWindow = window }
}

// Manager keeps track of the live monitoring sessions.
type Manager struct {
	mu          sync.RWMutex
	monitors    map[string]*Monitor
	logger      *zap.Logger
	now         func() time.Time
	alertWindow time.Duration
}

// NewManager returns an empty session registry.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		monitors:    make(map[string]*Monitor),
		logger:      logger.Named("session_manager"),
		now:         time.Now,
		alertWindow: AlertWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start acquires the media feed and registers a new session for owner.
// Media failures are fatal: no session is created.
func (m *Manager) Start(ctx context.Context, owner string, source MediaSource) (*Monitor, error) {
	dims, err := source.Open(ctx)
	if err != nil {
		m.logger.Warn("media acquisition failed", zap.String("user_id", owner), zap.Error(err))
		return nil, err
	}

	monitor := NewMonitor(uuid.NewString(), owner, dims, m.now(), m.alertWindow)

	m.mu.Lock()
	m.monitors[monitor.ID()] = monitor
	m.mu.Unlock()

	m.logger.Info("session started",
		zap.String("session_id", monitor.ID()),
		zap.String("user_id", owner),
		zap.Int("width", dims.Width),
		zap.Int("height", dims.Height),
	)
	return monitor, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Monitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	monitor, ok := m.monitors[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return monitor, nil
}

// Stop closes and unregisters a session, returning it for final reporting.
func (m *Manager) Stop(id string) (*Monitor, error) {
	m.mu.Lock()
	monitor, ok := m.monitors[id]
	delete(m.monitors, id)
	m.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	monitor.Close()
	m.logger.Info("session stopped", zap.String("session_id", id))
	return monitor, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.monitors)
}

// StopAll closes and unregisters every live session.
func (m *Manager) StopAll() []*Monitor {
	m.mu.Lock()
	stopped := make([]*Monitor, 0, len(m.monitors))
	for id, monitor := range m.monitors {
		delete(m.monitors, id)
		stopped = append(stopped, monitor)
	}
	m.mu.Unlock()

	for _, monitor := range stopped {
		monitor.Close()
	}
	return stopped
}

// Reap stops every session that has not seen a frame for longer than idle.
func (m *Manager) Reap(idle time.Duration) []*Monitor {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var reaped []*Monitor
	for id, monitor := range m.monitors {
		if monitor.LastActivity().Before(cutoff) {
			delete(m.monitors, id)
			reaped = append(reaped, monitor)
		}
	}
	m.mu.Unlock()

	for _, monitor := range reaped {
		monitor.Close()
		m.logger.Info("idle session reaped", zap.String("session_id", monitor.ID()))
	}
	return reaped
}

// RunReaper sweeps idle sessions every interval until ctx is done. onReap is
// called for each session removed.
func (m *Manager) RunReaper(ctx context.Context, interval, idle time.Duration, onReap func(*Monitor)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, monitor := range m.Reap(idle) {
				if onReap != nil {
					onReap(monitor)
				}
			}
		}
	}
}
