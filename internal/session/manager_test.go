package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/posture-check/internal/posture"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestManagerStartRejectsMediaFailure(t *testing.T) {
	mgr := NewManager(zap.NewNop())

	_, err := mgr.Start(context.Background(), "user-1", ClientMedia{DeviceError: "NotAllowedError: Permission denied"})
	if !errors.Is(err, posture.ErrMediaAcquisition) {
		t.Fatalf("expected ErrMediaAcquisition, got %v", err)
	}
	var mediaErr *MediaError
	if !errors.As(err, &mediaErr) || mediaErr.Notice() != CameraNotice {
		t.Fatalf("expected MediaError with notice, got %T", err)
	}
	if mgr.Len() != 0 {
		t.Fatalf("expected no session to be created, got %d", mgr.Len())
	}

	if _, err := mgr.Start(context.Background(), "user-1", ClientMedia{Width: 0, Height: 480}); !errors.Is(err, posture.ErrMediaAcquisition) {
		t.Fatalf("expected missing dimensions to fail acquisition, got %v", err)
	}
}

func TestManagerStartGetStop(t *testing.T) {
	clock := &fakeClock{now: start}
	mgr := NewManager(zap.NewNop(), WithClock(clock.Now))

	monitor, err := mgr.Start(context.Background(), "user-1", ClientMedia{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status := monitor.Snapshot()
	if !status.StartedAt.Equal(start) || !status.State.LastFrameAt.Equal(start) {
		t.Fatalf("expected state reset at start, got %+v", status)
	}

	got, err := mgr.Get(monitor.ID())
	if err != nil || got != monitor {
		t.Fatalf("expected to find started monitor, got %v %v", got, err)
	}

	stopped, err := mgr.Stop(monitor.ID())
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if !stopped.Snapshot().Closed {
		t.Fatal("expected stopped monitor to be closed")
	}
	if _, err := mgr.Get(monitor.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after stop, got %v", err)
	}
	if _, err := mgr.Stop(monitor.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected second stop to fail, got %v", err)
	}
}

func TestManagerReapsIdleSessions(t *testing.T) {
	clock := &fakeClock{now: start}
	mgr := NewManager(zap.NewNop(), WithClock(clock.Now))

	idle, _ := mgr.Start(context.Background(), "user-1", ClientMedia{Width: 640, Height: 480})
	active, _ := mgr.Start(context.Background(), "user-2", ClientMedia{Width: 640, Height: 480})

	clock.Advance(4 * time.Minute)
	if _, err := active.Process(Frame{Landmarks: goodLandmarks()}, clock.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(2 * time.Minute)

	reaped := mgr.Reap(5 * time.Minute)
	if len(reaped) != 1 || reaped[0] != idle {
		t.Fatalf("expected only the idle session to be reaped, got %d", len(reaped))
	}
	if mgr.Len() != 1 {
		t.Fatalf("expected one live session, got %d", mgr.Len())
	}
}

func TestManagerRunReaperStopsOnCancel(t *testing.T) {
	clock := &fakeClock{now: start}
	mgr := NewManager(zap.NewNop(), WithClock(clock.Now))
	monitor, _ := mgr.Start(context.Background(), "user-1", ClientMedia{Width: 640, Height: 480})
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	reaped := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- mgr.RunReaper(ctx, 5*time.Millisecond, time.Minute, func(m *Monitor) {
			reaped <- m.ID()
		})
	}()

	select {
	case id := <-reaped:
		if id != monitor.ID() {
			t.Fatalf("unexpected reaped session %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("reaper did not run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected reaper error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestManagerStopAll(t *testing.T) {
	mgr := NewManager(zap.NewNop())
	for i := 0; i < 3; i++ {
		if _, err := mgr.Start(context.Background(), "user-1", ClientMedia{Width: 640, Height: 480}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stopped := mgr.StopAll()
	if len(stopped) != 3 || mgr.Len() != 0 {
		t.Fatalf("expected all sessions stopped, got %d stopped and %d live", len(stopped), mgr.Len())
	}
	for _, monitor := range stopped {
		if !monitor.Snapshot().Closed {
			t.Fatalf("session %s not closed", monitor.ID())
		}
	}
}

func TestManagerReapIgnoresLaggingClientClock(t *testing.T) {
	clock := &fakeClock{now: start}
	mgr := NewManager(zap.NewNop(), WithClock(clock.Now))
	monitor, _ := mgr.Start(context.Background(), "user-1", ClientMedia{Width: 640, Height: 480})

	clock.Advance(time.Minute)
	frame := Frame{Landmarks: goodLandmarks(), CapturedAt: start.Add(-time.Hour)}
	if _, err := monitor.Process(frame, clock.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reaped := mgr.Reap(5 * time.Minute); len(reaped) != 0 {
		t.Fatalf("expected active session to survive, reaped %d", len(reaped))
	}
}
