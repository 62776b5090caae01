package identity

import "math"

// Point is a position in frame pixel coordinates.
type Point struct {
	X, Y int
}

// NoTarget is the focal point reported when no face is tracked.
var NoTarget = Point{X: -1, Y: -1}

// IsTarget reports whether p is a real focal point.
func (p Point) IsTarget() bool {
	return p.X >= 0 && p.Y >= 0
}

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X, Y          int
	Width, Height int
}

// Area returns the box area in square pixels. Degenerate boxes have zero area.
func (b Box) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Center returns the center point of the box.
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Diagonal returns the length of the box diagonal.
func (b Box) Diagonal() float64 {
	return math.Hypot(float64(b.Width), float64(b.Height))
}

// IoU returns the intersection over union of two boxes (0-1).
func (b Box) IoU(o Box) float64 {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X+b.Width, o.X+o.Width)
	y2 := min(b.Y+b.Height, o.Y+o.Height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// CenterDistance returns the euclidean distance between the two box centers.
func (b Box) CenterDistance(o Box) float64 {
	c1, c2 := b.Center(), o.Center()
	return math.Hypot(float64(c1.X-c2.X), float64(c1.Y-c2.Y))
}
