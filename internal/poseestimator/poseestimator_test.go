package poseestimator

import (
	"errors"
	"testing"

	"github.com/example/posture-check/internal/posture"
)

func fullPose() []Landmark {
	landmarks := make([]Landmark, 33)
	landmarks[LeftEar] = Landmark{X: 0.51, Y: 0.22}
	landmarks[LeftShoulder] = Landmark{X: 0.5, Y: 0.5}
	landmarks[RightShoulder] = Landmark{X: 0.56, Y: 0.49}
	landmarks[LeftHip] = Landmark{X: 0.49, Y: 0.88}
	return landmarks
}

func TestFrameLandmarksPicksRequiredPoints(t *testing.T) {
	result := &Result{Detected: true, Width: 640, Height: 480, Landmarks: fullPose()}

	lm, err := result.FrameLandmarks()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lm.LeftEar != (posture.Point{X: 0.51, Y: 0.22}) {
		t.Fatalf("unexpected ear: %+v", lm.LeftEar)
	}
	if lm.RightShoulder != (posture.Point{X: 0.56, Y: 0.49}) {
		t.Fatalf("unexpected right shoulder: %+v", lm.RightShoulder)
	}
	if lm.LeftHip != (posture.Point{X: 0.49, Y: 0.88}) {
		t.Fatalf("unexpected hip: %+v", lm.LeftHip)
	}
}

func TestFrameLandmarksWithoutPose(t *testing.T) {
	cases := map[string]*Result{
		"nil result":   nil,
		"not detected": {Detected: false, Landmarks: fullPose()},
		"partial set":  {Detected: true, Landmarks: fullPose()[:LeftHip]},
	}
	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := result.FrameLandmarks(); !errors.Is(err, posture.ErrNoPoseDetected) {
				t.Fatalf("expected ErrNoPoseDetected, got %v", err)
			}
		})
	}
}
