package entity

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Geometry is the closed set of area shapes.
type Geometry interface {
	Contains(p mgl64.Vec3) bool
	Center() mgl64.Vec3
	Radius() float64
	Translate(d mgl64.Vec3) Geometry
	geometry()
}

type Circle struct {
	Center2 mgl64.Vec2
	R       float64
}

type Cylinder struct {
	Center2 mgl64.Vec2
	R       float64
	MinZ    float64
	MaxZ    float64
}

type Sphere struct {
	Origin mgl64.Vec3
	R      float64
}

type Rectangle struct {
	Min mgl64.Vec2
	Max mgl64.Vec2
}

type Cuboid struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

type Polygon struct {
	Points []mgl64.Vec2
	MinZ   float64
	MaxZ   float64
}

// Invalid contains nothing. Attached areas whose host vanished resolve to it.
type Invalid struct{}

func (Circle) geometry()    {}
func (Cylinder) geometry()  {}
func (Sphere) geometry()    {}
func (Rectangle) geometry() {}
func (Cuboid) geometry()    {}
func (Polygon) geometry()   {}
func (Invalid) geometry()   {}

func (c Circle) Contains(p mgl64.Vec3) bool {
	d := p.Vec2().Sub(c.Center2)
	return d.Dot(d) <= c.R*c.R
}
func (c Circle) Center() mgl64.Vec3 { return c.Center2.Vec3(0) }
func (c Circle) Radius() float64    { return c.R }
func (c Circle) Translate(d mgl64.Vec3) Geometry {
	c.Center2 = c.Center2.Add(d.Vec2())
	return c
}

func (c Cylinder) Contains(p mgl64.Vec3) bool {
	if p.Z() < c.MinZ || p.Z() > c.MaxZ {
		return false
	}
	d := p.Vec2().Sub(c.Center2)
	return d.Dot(d) <= c.R*c.R
}
func (c Cylinder) Center() mgl64.Vec3 { return c.Center2.Vec3((c.MinZ + c.MaxZ) / 2) }
func (c Cylinder) Radius() float64    { return c.R }
func (c Cylinder) Translate(d mgl64.Vec3) Geometry {
	c.Center2 = c.Center2.Add(d.Vec2())
	c.MinZ += d.Z()
	c.MaxZ += d.Z()
	return c
}

func (s Sphere) Contains(p mgl64.Vec3) bool { return distSq(p, s.Origin) <= s.R*s.R }
func (s Sphere) Center() mgl64.Vec3         { return s.Origin }
func (s Sphere) Radius() float64            { return s.R }
func (s Sphere) Translate(d mgl64.Vec3) Geometry {
	s.Origin = s.Origin.Add(d)
	return s
}

func (r Rectangle) Contains(p mgl64.Vec3) bool {
	return p.X() >= r.Min.X() && p.X() <= r.Max.X() && p.Y() >= r.Min.Y() && p.Y() <= r.Max.Y()
}
func (r Rectangle) Center() mgl64.Vec3 { return r.Min.Add(r.Max).Mul(0.5).Vec3(0) }
func (r Rectangle) Radius() float64    { return r.Max.Sub(r.Min).Len() / 2 }
func (r Rectangle) Translate(d mgl64.Vec3) Geometry {
	r.Min = r.Min.Add(d.Vec2())
	r.Max = r.Max.Add(d.Vec2())
	return r
}

func (c Cuboid) Contains(p mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < c.Min[i] || p[i] > c.Max[i] {
			return false
		}
	}
	return true
}
func (c Cuboid) Center() mgl64.Vec3 { return c.Min.Add(c.Max).Mul(0.5) }
func (c Cuboid) Radius() float64 {
	return c.Max.Vec2().Sub(c.Min.Vec2()).Len() / 2
}
func (c Cuboid) Translate(d mgl64.Vec3) Geometry {
	c.Min = c.Min.Add(d)
	c.Max = c.Max.Add(d)
	return c
}

func (g Polygon) Contains(p mgl64.Vec3) bool {
	if len(g.Points) < 3 || p.Z() < g.MinZ || p.Z() > g.MaxZ {
		return false
	}
	x, y := p.X(), p.Y()
	in := false
	j := len(g.Points) - 1
	for i := range g.Points {
		pi, pj := g.Points[i], g.Points[j]
		if (pi.Y() > y) != (pj.Y() > y) {
			cross := (pj.X()-pi.X())*(y-pi.Y())/(pj.Y()-pi.Y()) + pi.X()
			if x < cross {
				in = !in
			}
		}
		j = i
	}
	return in
}

func (g Polygon) Center() mgl64.Vec3 {
	if len(g.Points) == 0 {
		return Infinite()
	}
	var sum mgl64.Vec2
	for _, pt := range g.Points {
		sum = sum.Add(pt)
	}
	return sum.Mul(1 / float64(len(g.Points))).Vec3((g.MinZ + g.MaxZ) / 2)
}

func (g Polygon) Radius() float64 {
	c := g.Center().Vec2()
	r := 0.0
	for _, pt := range g.Points {
		r = math.Max(r, pt.Sub(c).Len())
	}
	return r
}

func (g Polygon) Translate(d mgl64.Vec3) Geometry {
	pts := make([]mgl64.Vec2, len(g.Points))
	for i, pt := range g.Points {
		pts[i] = pt.Add(d.Vec2())
	}
	return Polygon{Points: pts, MinZ: g.MinZ + d.Z(), MaxZ: g.MaxZ + d.Z()}
}

func (Invalid) Contains(mgl64.Vec3) bool      { return false }
func (Invalid) Center() mgl64.Vec3            { return Infinite() }
func (Invalid) Radius() float64               { return 0 }
func (Invalid) Translate(mgl64.Vec3) Geometry { return Invalid{} }

func distSq(a, b mgl64.Vec3) float64 {
	d := a.Sub(b)
	return d.Dot(d)
}
