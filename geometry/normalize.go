// Package geometry maps device-space geometry to and from the fixed logical
// canvas all lines are stored in.
package geometry

import (
	"math"

	"github.com/Alexandr23/shared-canvas/domain"
)

const (
	LogicalSize = 1000.0

	BaseWidth  = 5.0
	TouchWidth = 10.0
	WidthMin   = 3.0
	WidthMax   = 10.0
)

// Scale is deviceCanvasSize / LogicalSize. Recompute it whenever the device
// canvas is resized; stored geometry is unaffected.
type Scale float64

func ScaleFor(deviceSize float64) Scale {
	return Scale(deviceSize / LogicalSize)
}

// FitSquare returns the scale for the largest square canvas fitting in a
// width x height viewport.
func FitSquare(width, height float64) Scale {
	return ScaleFor(math.Min(width, height))
}

func NormalizePoint(p domain.Point, s Scale) domain.Point {
	return domain.Point{X: p.X / float64(s), Y: p.Y / float64(s), Pressure: p.Pressure}
}

func DenormalizePoint(p domain.Point, s Scale) domain.Point {
	return domain.Point{X: p.X * float64(s), Y: p.Y * float64(s), Pressure: p.Pressure}
}

func NormalizeLineWidth(width float64, s Scale) float64 {
	return width / float64(s)
}

func DenormalizeLineWidth(width float64, s Scale) float64 {
	return width * float64(s)
}

// StrokeWidth derives the logical width of a segment ending at p.
func StrokeWidth(p domain.Point) float64 {
	width := BaseWidth
	if p.Pressure != nil {
		width = TouchWidth * *p.Pressure
	}
	return clamp(width, WidthMin, WidthMax)
}

// DeviceStrokeWidth is StrokeWidth expressed in device pixels.
func DeviceStrokeWidth(p domain.Point, s Scale) float64 {
	return DenormalizeLineWidth(StrokeWidth(p), s)
}

func NormalizeDraft(d domain.LineDraft, s Scale) domain.LineDraft {
	return domain.LineDraft{Color: d.Color, Points: mapPoints(d.Points, s, NormalizePoint)}
}

// DenormalizeLine returns a copy of l in device space.
func DenormalizeLine(l domain.Line, s Scale) domain.Line {
	l.Points = mapPoints(l.Points, s, DenormalizePoint)
	return l
}

func mapPoints(points []domain.Point, s Scale, f func(domain.Point, Scale) domain.Point) []domain.Point {
	out := make([]domain.Point, len(points))
	for i, p := range points {
		out[i] = f(p, s)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(lo, v), hi)
}
