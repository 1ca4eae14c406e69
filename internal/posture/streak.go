package posture

import (
	"fmt"
	"time"
)

// AlertThreshold is the bad-posture streak length that triggers an alert.
const AlertThreshold = 180 * time.Second

// State tracks the running good/bad streak of a monitoring session.
// At most one of the two counters is non-zero.
type State struct {
	ConsecutiveGoodFrames int       `json:"consecutive_good_frames"`
	ConsecutiveBadFrames  int       `json:"consecutive_bad_frames"`
	LastFrameAt           time.Time `json:"last_frame_at"`
}

// NewState returns the state of a session that starts monitoring at now.
func NewState(now time.Time) State {
	return State{LastFrameAt: now}
}

// StreakReport describes the streak after a frame has been accounted for.
type StreakReport struct {
	Seconds        float64
	Kind           Verdict
	AlertTriggered bool
}

// String renders the streak the way the timer readout shows it, e.g. "12.5s (Good)".
func (r StreakReport) String() string {
	return fmt.Sprintf("%.1fs (%s)", r.Seconds, r.Kind)
}

// UpdateStreak accounts for one classified frame observed at now.
//
// The streak length is approximated as frame count times the interval since
// the previous frame, which assumes a steady frame rate.
func UpdateStreak(state State, verdict Verdict, now time.Time) (State, StreakReport) {
	delta := now.Sub(state.LastFrameAt).Seconds()
	if delta < 0 {
		delta = 0
	}
	state.LastFrameAt = now

	report := StreakReport{Kind: verdict}
	if verdict == VerdictGood {
		state.ConsecutiveGoodFrames++
		state.ConsecutiveBadFrames = 0
		report.Seconds = float64(state.ConsecutiveGoodFrames) * delta
	} else {
		state.ConsecutiveBadFrames++
		state.ConsecutiveGoodFrames = 0
		report.Seconds = float64(state.ConsecutiveBadFrames) * delta
	}
	report.AlertTriggered = report.Kind == VerdictBad && report.Seconds > AlertThreshold.Seconds()
	return state, report
}
