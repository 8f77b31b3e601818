package model

import "fmt"

// Dimensions is a cuboid measured in millimetres.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether every axis is strictly positive.
func (d Dimensions) Valid() bool {
	return d.Length > 0 && d.Width > 0 && d.Height > 0
}

// Scale multiplies every axis by f.
func (d Dimensions) Scale(f float64) Dimensions {
	return Dimensions{Length: d.Length * f, Width: d.Width * f, Height: d.Height * f}
}

// AtLeast reports whether every axis of d is greater than or equal to the
// matching axis of o.
func (d Dimensions) AtLeast(o Dimensions) bool {
	return d.Length >= o.Length && d.Width >= o.Width && d.Height >= o.Height
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%.1fx%.1fx%.1fmm", d.Length, d.Width, d.Height)
}
