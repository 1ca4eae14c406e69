package poseestimator

import (
	"context"

	"github.com/example/posture-check/internal/posture"
)

// Landmark indices of the pose model topology (MediaPipe Pose, 33 points).
const (
	LeftEar       = 7
	LeftShoulder  = 11
	RightShoulder = 12
	LeftHip       = 23
)

// Landmark is one normalized body landmark.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z,omitempty"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Result contains the pose detected in one frame.
type Result struct {
	Detected  bool
	Width     int
	Height    int
	Landmarks []Landmark
}

// Client exposes the subset of the pose engine used by the monitoring flow.
type Client interface {
	Estimate(ctx context.Context, sessionID string, image []byte) (*Result, error)
}

// FrameLandmarks extracts the points the classifier needs. A frame without a
// detected pose, or without every required point, yields posture.ErrNoPoseDetected.
func (r *Result) FrameLandmarks() (*posture.FrameLandmarks, error) {
	if r == nil || !r.Detected {
		return nil, posture.ErrNoPoseDetected
	}
	return FromLandmarks(r.Landmarks)
}

// FromLandmarks picks the classifier points out of a full landmark list.
func FromLandmarks(landmarks []Landmark) (*posture.FrameLandmarks, error) {
	if len(landmarks) <= LeftHip {
		return nil, posture.ErrNoPoseDetected
	}
	point := func(i int) posture.Point {
		return posture.Point{X: landmarks[i].X, Y: landmarks[i].Y}
	}
	return &posture.FrameLandmarks{
		LeftShoulder:  point(LeftShoulder),
		RightShoulder: point(RightShoulder),
		LeftEar:       point(LeftEar),
		LeftHip:       point(LeftHip),
	}, nil
}
