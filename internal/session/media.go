package session

import (
	"context"

	"github.com/example/posture-check/internal/posture"
)

// CameraNotice is the message shown to the user when the camera cannot be used.
const CameraNotice = "Error accessing camera. Please make sure you have a camera connected and have granted permission."

// Dimensions is the pixel size of the frames a media source delivers.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MediaSource acquires the camera feed a session is monitoring.
type MediaSource interface {
	Open(ctx context.Context) (Dimensions, error)
}

// MediaError is a session-fatal media acquisition failure.
type MediaError struct {
	Cause string
}

func (e *MediaError) Error() string {
	return "media acquisition failed: " + e.Cause
}

// Unwrap lets callers match the failure with posture.ErrMediaAcquisition.
func (e *MediaError) Unwrap() error {
	return posture.ErrMediaAcquisition
}

// Notice returns the human readable message for the user.
func (e *MediaError) Notice() string {
	return CameraNotice
}

// ClientMedia is a feed captured by the client, which reports the negotiated
// frame size or the device error it ran into.
type ClientMedia struct {
	Width       int
	Height      int
	DeviceError string
}

// Open validates what the client reported about its camera.
func (c ClientMedia) Open(ctx context.Context) (Dimensions, error) {
	if err := ctx.Err(); err != nil {
		return Dimensions{}, err
	}
	if c.DeviceError != "" {
		return Dimensions{}, &MediaError{Cause: c.DeviceError}
	}
	if c.Width <= 0 || c.Height <= 0 {
		return Dimensions{}, &MediaError{Cause: "camera reported no video frames"}
	}
	return Dimensions{Width: c.Width, Height: c.Height}, nil
}
