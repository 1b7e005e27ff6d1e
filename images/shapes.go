// Package images - Image geometry and loading utilities.
package images

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Rect is a lightweight axis-aligned bounding box in floating point pixel units.
//
// X1,Y1 is the top-left corner (left, top) and X2,Y2 the bottom-right corner (right, bottom).
type Rect struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// RectFromCenter builds a Rect from centre form.
//
// Arguments:
//   - cx, cy: The centre of the box.
//   - w, h: The width and height of the box.
//
// Returns:
//   - Rect: The corner-form rectangle.
func RectFromCenter(cx, cy, w, h float32) Rect {
	return Rect{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Width returns the horizontal extent of the box.
func (r Rect) Width() float32 {
	return r.X2 - r.X1
}

// Height returns the vertical extent of the box.
func (r Rect) Height() float32 {
	return r.Y2 - r.Y1
}

// Area returns the signed area of the box. Inverted boxes yield a non-positive area.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// Empty reports whether the box has no drawable area.
func (r Rect) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Scale multiplies every edge by s.
func (r Rect) Scale(s float32) Rect {
	return Rect{X1: r.X1 * s, Y1: r.Y1 * s, X2: r.X2 * s, Y2: r.Y2 * s}
}

// InDelta reports whether every edge of r is within delta of the matching edge of o.
func (r Rect) InDelta(o Rect, delta float32) bool {
	return math32.Abs(r.X1-o.X1) <= delta &&
		math32.Abs(r.Y1-o.Y1) <= delta &&
		math32.Abs(r.X2-o.X2) <= delta &&
		math32.Abs(r.Y2-o.Y2) <= delta
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.2f, %.2f)-(%.2f, %.2f)", r.X1, r.Y1, r.X2, r.Y2)
}

// CalculateIoU measures the overlap of two boxes as Intersection over Union.
//
//	IoU = Area of Intersection / Area of Union
//
//   - 1.0 means the rectangles are identical.
//   - 0.0 means the rectangles don't overlap at all.
//
// The intersection takes the maximum of the top-left corners and the minimum of the
// bottom-right corners, clamping negative extents to zero. The union follows
// inclusion-exclusion: Area(A) + Area(B) - Area(Intersection).
//
// A box whose area is zero or negative never matches anything: the IoU is 0 whenever
// either input is degenerate.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	iouScore := CalculateIoU(rect1, rect2) // 25 / (100 + 100 - 25) = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	areaR := r.Area()
	areaO := o.Area()
	if areaR <= 0 || areaO <= 0 {
		return 0
	}

	interW := math32.Max(0, math32.Min(r.X2, o.X2)-math32.Max(r.X1, o.X1))
	interH := math32.Max(0, math32.Min(r.Y2, o.Y2)-math32.Max(r.Y1, o.Y1))
	interArea := interW * interH

	return interArea / (areaR + areaO - interArea)
}
