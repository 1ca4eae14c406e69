package posture

import "math"

// Point is a landmark position. Depending on context it is either normalized
// to [0,1] or expressed in frame pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ComputeDistance returns the Euclidean distance between two points.
func ComputeDistance(x1, y1, x2, y2 float64) float64 {
	return math.Sqrt((x2-x1)*(x2-x1) + (y2-y1)*(y2-y1))
}

// ComputeAngle returns the inclination, in whole degrees, of the ray from
// origin to target measured against the vertical through origin.
//
// The heuristic uses the origin's absolute Y coordinate as the reference
// vertical vector (pointing at the top edge of the frame) instead of a unit
// vector. It is kept as is for compatibility with existing readouts; it is not
// a general angle between two vectors.
func ComputeAngle(originX, originY, targetX, targetY float64) (int, error) {
	if originY == 0 {
		return 0, ErrDegenerateGeometry
	}
	dist := ComputeDistance(originX, originY, targetX, targetY)
	if dist == 0 {
		return 0, ErrDegenerateGeometry
	}

	cos := (targetY - originY) * (-originY) / (dist * originY)
	if math.IsNaN(cos) || math.IsInf(cos, 0) {
		return 0, ErrDegenerateGeometry
	}
	// rounding noise only; the quotient is mathematically within [-1, 1]
	cos = math.Max(-1, math.Min(1, cos))

	theta := math.Acos(cos)
	return int(math.Floor(theta * 180 / math.Pi)), nil
}
