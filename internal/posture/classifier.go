package posture

const (
	// NeckGoodMax is the exclusive upper bound, in degrees, of a good neck inclination.
	NeckGoodMax = 40
	// TorsoGoodMax is the exclusive upper bound, in degrees, of a good torso inclination.
	TorsoGoodMax = 10
	// ShoulderAlignmentMax is the shoulder offset, in pixels, below which the
	// camera is considered aligned with the side of the body.
	ShoulderAlignmentMax = 100.0
)

// Verdict is the binary posture classification of one frame.
type Verdict int

const (
	VerdictGood Verdict = iota
	VerdictBad
)

func (v Verdict) String() string {
	if v == VerdictGood {
		return "Good"
	}
	return "Bad"
}

// FrameLandmarks holds the landmarks needed for classification.
type FrameLandmarks struct {
	LeftShoulder  Point `json:"left_shoulder"`
	RightShoulder Point `json:"right_shoulder"`
	LeftEar       Point `json:"left_ear"`
	LeftHip       Point `json:"left_hip"`
}

// Scale de-normalizes the landmarks into pixel space.
func (l FrameLandmarks) Scale(width, height int) FrameLandmarks {
	w, h := float64(width), float64(height)
	scale := func(p Point) Point { return Point{X: p.X * w, Y: p.Y * h} }
	return FrameLandmarks{
		LeftShoulder:  scale(l.LeftShoulder),
		RightShoulder: scale(l.RightShoulder),
		LeftEar:       scale(l.LeftEar),
		LeftHip:       scale(l.LeftHip),
	}
}

// Measurement contains the per-frame geometry derived from the landmarks.
type Measurement struct {
	NeckAngle      int     `json:"neck_angle"`
	TorsoAngle     int     `json:"torso_angle"`
	ShoulderOffset float64 `json:"shoulder_offset"`
}

// ShouldersAligned reports whether the shoulders overlap enough for the side
// view the angles assume.
func (m Measurement) ShouldersAligned() bool {
	return m.ShoulderOffset < ShoulderAlignmentMax
}

// Verdict applies the fixed posture thresholds.
func (m Measurement) Verdict() Verdict {
	if m.NeckAngle < NeckGoodMax && m.TorsoAngle < TorsoGoodMax {
		return VerdictGood
	}
	return VerdictBad
}

// Classification is the outcome of classifying one frame.
type Classification struct {
	Points      FrameLandmarks
	Measurement Measurement
	Verdict     Verdict
}

// ClassifyFrame scales normalized landmarks to the frame and derives the
// posture measurement and verdict.
func ClassifyFrame(lm FrameLandmarks, width, height int) (Classification, error) {
	if width <= 0 || height <= 0 {
		return Classification{}, ErrInvalidFrame
	}
	pts := lm.Scale(width, height)

	offset := ComputeDistance(pts.LeftShoulder.X, pts.LeftShoulder.Y, pts.RightShoulder.X, pts.RightShoulder.Y)
	neck, err := ComputeAngle(pts.LeftShoulder.X, pts.LeftShoulder.Y, pts.LeftEar.X, pts.LeftEar.Y)
	if err != nil {
		return Classification{}, err
	}
	torso, err := ComputeAngle(pts.LeftHip.X, pts.LeftHip.Y, pts.LeftShoulder.X, pts.LeftShoulder.Y)
	if err != nil {
		return Classification{}, err
	}

	m := Measurement{NeckAngle: neck, TorsoAngle: torso, ShoulderOffset: offset}
	return Classification{Points: pts, Measurement: m, Verdict: m.Verdict()}, nil
}
