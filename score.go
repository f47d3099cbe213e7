package main

import (
	"crypto/rand"
	"math"
)

// RGBColor is a single color target or guess, one byte per channel.
type RGBColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

func (c RGBColor) valid() bool {
	return c.R >= 0 && c.R <= 255 &&
		c.G >= 0 && c.G <= 255 &&
		c.B >= 0 && c.B <= 255
}

// randomColor picks a round target uniformly across the RGB cube.
func randomColor() RGBColor {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	return RGBColor{
		R: int(buf[0]),
		G: int(buf[1]),
		B: int(buf[2]),
	}
}

func rgbToXyz(c RGBColor) (float64, float64, float64) {
	linearize := func(v float64) float64 {
		v /= 255
		if v > 0.04045 {
			return math.Pow((v+0.055)/1.055, 2.4)
		}
		return v / 12.92
	}

	r := linearize(float64(c.R))
	g := linearize(float64(c.G))
	b := linearize(float64(c.B))

	x := (r*0.4124 + g*0.3576 + b*0.1805) * 100
	y := (r*0.2126 + g*0.7152 + b*0.0722) * 100
	z := (r*0.0193 + g*0.1192 + b*0.9505) * 100

	return x, y, z
}

func xyzToLab(x, y, z float64) (float64, float64, float64) {
	// D65 reference white
	const (
		refX = 95.047
		refY = 100.0
		refZ = 108.883
	)

	f := func(v float64) float64 {
		if v > 0.008856 {
			return math.Cbrt(v)
		}
		return 7.787*v + 16.0/116.0
	}

	fx := f(x / refX)
	fy := f(y / refY)
	fz := f(z / refZ)

	l := 116*fy - 16
	a := 500 * (fx - fy)
	b := 200 * (fy - fz)

	return l, a, b
}

// scoreColors rates how close a guess is to the target, from 0 (far) to
// 100 (exact), using CIE76 delta-E in Lab space.
func scoreColors(source, target RGBColor) int {
	l1, a1, b1 := xyzToLab(rgbToXyz(source))
	l2, a2, b2 := xyzToLab(rgbToXyz(target))

	deltaE := math.Sqrt(
		(l1-l2)*(l1-l2) +
			(a1-a2)*(a1-a2) +
			(b1-b2)*(b1-b2))

	score := int(math.Round(100 - deltaE))
	if score < 0 {
		score = 0
	}

	return score
}
