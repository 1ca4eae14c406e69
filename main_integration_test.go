package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/posture-check/internal/session"
)

type finalized struct {
	mu      sync.Mutex
	reasons map[string]string
}

func (f *finalized) record(m *session.Monitor, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons[m.ID()] = reason
}

func (f *finalized) reason(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reasons[id]
}

func newTestLifecycle(t *testing.T, handler http.Handler, sessions *session.Manager, done *finalized) (*lifecycle, chan os.Signal, string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	signalCh := make(chan os.Signal, 1)
	return &lifecycle{
		server:          &http.Server{Handler: handler},
		sessions:        sessions,
		finalize:        done.record,
		reapInterval:    5 * time.Millisecond,
		idleTimeout:     time.Hour,
		shutdownTimeout: 2 * time.Second,
		logger:          zap.NewNop(),
		listener:        listener,
		signalCh:        signalCh,
	}, signalCh, listener.Addr().String()
}

func TestLifecycleGracefulShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(releaseRequest) }) }
	defer release()

	router := gin.New()
	router.GET("/sessions/:id", func(c *gin.Context) {
		close(requestStarted)
		<-releaseRequest
		c.String(http.StatusOK, c.Param("id"))
	})

	sessions := session.NewManager(zap.NewNop())
	live, err := sessions.Start(context.Background(), "user-1", session.ClientMedia{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := &finalized{reasons: map[string]string{}}
	lc, signalCh, addr := newTestLifecycle(t, router, sessions, record)

	done := make(chan error, 1)
	go func() { done <- lc.run() }()
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Get("http://" + addr + "/sessions/" + live.ID())
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	release()

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || string(body) != live.ID() {
			t.Fatalf("unexpected response: %d %s", resp.StatusCode, string(body))
		}
	case err := <-errCh:
		t.Fatalf("in-flight request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not exit after shutdown")
	}

	if got := record.reason(live.ID()); got != "shutdown" {
		t.Fatalf("expected live session finalized on shutdown, got %q", got)
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected no live sessions after shutdown, got %d", sessions.Len())
	}
}

func TestLifecycleReapsIdleSessions(t *testing.T) {
	sessions := session.NewManager(zap.NewNop())
	idle, err := sessions.Start(context.Background(), "user-1", session.ClientMedia{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := &finalized{reasons: map[string]string{}}
	lc, signalCh, addr := newTestLifecycle(t, http.NotFoundHandler(), sessions, record)
	lc.idleTimeout = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- lc.run() }()
	waitForServer(t, addr)

	deadline := time.Now().Add(2 * time.Second)
	for record.reason(idle.ID()) == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := record.reason(idle.ID()); got != "idle" {
		t.Fatalf("expected idle session to be reaped, got %q", got)
	}

	signalCh <- syscall.SIGTERM
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected shutdown error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not exit")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
