package document

import "math"

// Point is a position in PDF user space.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box with LLX <= URX and LLY <= URY.
type Rect struct {
	LLX, LLY, URX, URY float64
}

func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{
		LLX: math.Min(x0, x1), LLY: math.Min(y0, y1),
		URX: math.Max(x0, x1), URY: math.Max(y0, y1),
	}
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.Width() * r.Height()
}

func (r Rect) Empty() bool {
	return r.URX <= r.LLX || r.URY <= r.LLY
}

// Intersect returns the overlap of r and o, possibly empty.
func (r Rect) Intersect(o Rect) Rect {
	return Rect{
		LLX: math.Max(r.LLX, o.LLX), LLY: math.Max(r.LLY, o.LLY),
		URX: math.Min(r.URX, o.URX), URY: math.Min(r.URY, o.URY),
	}
}

// Union returns the smallest rect containing r and o. The zero Rect is ignored.
func (r Rect) Union(o Rect) Rect {
	if r == (Rect{}) {
		return o
	}
	if o == (Rect{}) {
		return r
	}
	return Rect{
		LLX: math.Min(r.LLX, o.LLX), LLY: math.Min(r.LLY, o.LLY),
		URX: math.Max(r.URX, o.URX), URY: math.Max(r.URY, o.URY),
	}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.LLX >= r.LLX && o.LLY >= r.LLY && o.URX <= r.URX && o.URY <= r.URY
}

// Clip restricts r to bounds.
func (r Rect) Clip(bounds Rect) Rect {
	c := r.Intersect(bounds)
	if c.Empty() {
		return Rect{}
	}
	return c
}

// Matrix is a PDF affine transform [a b c d e f].
type Matrix [6]float64

// Identity is the unit transform.
var Identity = Matrix{1, 0, 0, 1, 0, 0}

// Mul returns m × n, i.e. m applied first, then n.
func (m Matrix) Mul(n Matrix) Matrix {
	return Matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m Matrix) Apply(p Point) Point {
	return Point{
		X: p.X*m[0] + p.Y*m[2] + m[4],
		Y: p.X*m[1] + p.Y*m[3] + m[5],
	}
}

// Inverse returns the inverse transform. Singular matrices yield Identity.
func (m Matrix) Inverse() Matrix {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-12 {
		return Identity
	}
	return Matrix{
		m[3] / det, -m[1] / det,
		-m[2] / det, m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}
}

// TransformRect returns the bounding box of r mapped through m.
func (m Matrix) TransformRect(r Rect) Rect {
	pts := [4]Point{
		m.Apply(Point{r.LLX, r.LLY}), m.Apply(Point{r.URX, r.LLY}),
		m.Apply(Point{r.LLX, r.URY}), m.Apply(Point{r.URX, r.URY}),
	}
	out := Rect{LLX: pts[0].X, LLY: pts[0].Y, URX: pts[0].X, URY: pts[0].Y}
	for _, p := range pts[1:] {
		out.LLX = math.Min(out.LLX, p.X)
		out.LLY = math.Min(out.LLY, p.Y)
		out.URX = math.Max(out.URX, p.X)
		out.URY = math.Max(out.URY, p.Y)
	}
	return out
}

// VerticalScale is the length of the transformed unit y vector.
func (m Matrix) VerticalScale() float64 {
	return math.Hypot(m[2], m[3])
}

// HorizontalScale is the length of the transformed unit x vector.
func (m Matrix) HorizontalScale() float64 {
	return math.Hypot(m[0], m[1])
}

// Upright reports whether m has no rotation or skew (text reads left to right).
func (m Matrix) Upright() bool {
	const eps = 1e-6
	return math.Abs(m[1]) < eps && math.Abs(m[2]) < eps && m[0] > 0 && m[3] > 0
}

// Color is an RGB fill colour with components in [0,1].
type Color struct {
	R, G, B float64
}

// Black is the initial fill colour.
var Black = Color{}

func grayColor(g float64) Color { return Color{g, g, g} }

func cmykColor(c, m, y, k float64) Color {
	return Color{
		R: (1 - c) * (1 - k),
		G: (1 - m) * (1 - k),
		B: (1 - y) * (1 - k),
	}
}
