package session

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/example/posture-check/internal/posture"
)

var (
	// ErrSessionNotFound is returned for unknown or foreign session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when a frame arrives after the session stopped.
	ErrSessionClosed = errors.New("session closed")
)

// FrameReport is everything the presentation layer needs to render one frame.
type FrameReport struct {
	SessionID        string                 `json:"session_id"`
	CapturedAt       time.Time              `json:"captured_at"`
	Points           posture.FrameLandmarks `json:"points"`
	Verdict          string                 `json:"verdict"`
	NeckAngle        int                    `json:"neck_angle"`
	TorsoAngle       int                    `json:"torso_angle"`
	ShoulderOffset   int                    `json:"shoulder_offset"`
	ShouldersAligned bool                   `json:"shoulders_aligned"`
	Streak           string                 `json:"streak"`
	StreakSeconds    float64                `json:"streak_seconds"`
	StreakKind       string                 `json:"streak_kind"`
	AlertTriggered   bool                   `json:"alert_triggered"`
	Alert            bool                   `json:"alert"`
}

// Totals are the per-session counters kept for the end-of-session summary.
type Totals struct {
	GoodFrames              int     `json:"good_frames"`
	BadFrames               int     `json:"bad_frames"`
	SkippedFrames           int     `json:"skipped_frames"`
	Alerts                  int     `json:"alerts"`
	LongestBadStreakSeconds float64 `json:"longest_bad_streak_seconds"`
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID   string        `json:"session_id"`
	UserID      string        `json:"user_id"`
	Dimensions  Dimensions    `json:"dimensions"`
	StartedAt   time.Time     `json:"started_at"`
	LastFrameAt time.Time     `json:"last_frame_at"`
	State       posture.State `json:"state"`
	Streak      string        `json:"streak,omitempty"`
	Alert       bool          `json:"alert"`
	Totals      Totals        `json:"totals"`
	Closed      bool          `json:"closed"`
}

// Monitor owns the posture state of one monitoring session. Frames are
// processed one at a time.
type Monitor struct {
	mu           sync.Mutex
	id           string
	owner        string
	dims         Dimensions
	startedAt    time.Time
	lastActivity time.Time
	clockOffset  time.Duration
	clockPinned  bool
	state        posture.State
	lastStreak   *posture.StreakReport
	alert        *Alert
	totals       Totals
	closed       bool
}

// NewMonitor starts a session at now with a fresh posture state.
func NewMonitor(id, owner string, dims Dimensions, now time.Time, alertWindow time.Duration) *Monitor {
	return &Monitor{
		id:           id,
		owner:        owner,
		dims:         dims,
		startedAt:    now,
		lastActivity: now,
		state:        posture.NewState(now),
		alert:        NewAlert(alertWindow),
	}
}

// ID returns the session id.
func (m *Monitor) ID() string { return m.id }

// Owner returns the user the session belongs to.
func (m *Monitor) Owner() string { return m.owner }

// Frame is one observation submitted to a session.
type Frame struct {
	// Landmarks is nil when the pose engine found nobody.
	Landmarks *posture.FrameLandmarks
	// Dimensions of the analysed image. Zero means the session's dimensions.
	Dimensions Dimensions
	// CapturedAt is the client's capture time; zero means the arrival time.
	CapturedAt time.Time
}

// Process classifies one frame that arrived at receivedAt on the server
// clock. Client capture times only measure the spacing between frames: the
// first one is pinned to its arrival time and later ones keep that offset, so
// a skewed client clock cannot inflate a streak or age the session. Frames
// that cannot be classified are counted as skipped and leave the posture
// state untouched; the returned error tells why.
func (m *Monitor) Process(frame Frame, receivedAt time.Time) (*FrameReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrSessionClosed
	}
	m.lastActivity = receivedAt
	now := m.timeline(frame.CapturedAt, receivedAt)
	lm := frame.Landmarks
	dims := m.dims
	if frame.Dimensions.Width > 0 && frame.Dimensions.Height > 0 {
		dims = frame.Dimensions
	}

	if lm == nil {
		m.totals.SkippedFrames++
		return nil, posture.ErrNoPoseDetected
	}
	result, err := posture.ClassifyFrame(*lm, dims.Width, dims.Height)
	if err != nil {
		if posture.IsFrameSkippable(err) {
			m.totals.SkippedFrames++
		}
		return nil, err
	}

	var streak posture.StreakReport
	m.state, streak = posture.UpdateStreak(m.state, result.Verdict, now)
	m.lastStreak = &streak

	if result.Verdict == posture.VerdictGood {
		m.totals.GoodFrames++
	} else {
		m.totals.BadFrames++
		m.totals.LongestBadStreakSeconds = math.Max(m.totals.LongestBadStreakSeconds, streak.Seconds)
	}
	if streak.AlertTriggered {
		m.totals.Alerts++
		m.alert.Raise()
	}

	return &FrameReport{
		SessionID:        m.id,
		CapturedAt:       capturedAt(frame.CapturedAt, receivedAt),
		Points:           result.Points,
		Verdict:          result.Verdict.String(),
		NeckAngle:        result.Measurement.NeckAngle,
		TorsoAngle:       result.Measurement.TorsoAngle,
		ShoulderOffset:   int(math.Round(result.Measurement.ShoulderOffset)),
		ShouldersAligned: result.Measurement.ShouldersAligned(),
		Streak:           streak.String(),
		StreakSeconds:    streak.Seconds,
		StreakKind:       streak.Kind.String(),
		AlertTriggered:   streak.AlertTriggered,
		Alert:            m.alert.Visible(),
	}, nil
}

func (m *Monitor) timeline(clientAt, receivedAt time.Time) time.Time {
	if clientAt.IsZero() {
		return receivedAt
	}
	if !m.clockPinned {
		m.clockOffset = receivedAt.Sub(clientAt)
		m.clockPinned = true
	}
	return clientAt.Add(m.clockOffset)
}

func capturedAt(clientAt, receivedAt time.Time) time.Time {
	if clientAt.IsZero() {
		return receivedAt
	}
	return clientAt
}

// LastActivity returns when the session last received a frame.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Snapshot returns the current status of the session.
func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		SessionID:   m.id,
		UserID:      m.owner,
		Dimensions:  m.dims,
		StartedAt:   m.startedAt,
		LastFrameAt: m.lastActivity,
		State:       m.state,
		Alert:       m.alert.Visible(),
		Totals:      m.totals,
		Closed:      m.closed,
	}
	if m.lastStreak != nil {
		status.Streak = m.lastStreak.String()
	}
	return status
}

// Close ends the session. The alert is cancelled and the posture state is
// discarded; totals remain readable through Snapshot.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.alert.Stop()
	m.state = posture.State{}
	m.lastStreak = nil
}
