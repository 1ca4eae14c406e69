package posture

import "errors"

var (
	// ErrNoPoseDetected reports that the pose engine found no usable body in the frame.
	ErrNoPoseDetected = errors.New("no pose detected")
	// ErrDegenerateGeometry reports that an angle is undefined for the given points.
	ErrDegenerateGeometry = errors.New("degenerate landmark geometry")
	// ErrInvalidFrame reports frame dimensions that cannot de-normalize landmarks.
	ErrInvalidFrame = errors.New("invalid frame dimensions")
	// ErrMediaAcquisition reports that the camera feed could not be acquired.
	ErrMediaAcquisition = errors.New("media acquisition failed")
)

// IsFrameSkippable reports whether err only invalidates the current frame.
// Such frames are dropped without touching the session state.
func IsFrameSkippable(err error) bool {
	return errors.Is(err, ErrNoPoseDetected) || errors.Is(err, ErrDegenerateGeometry)
}
