package fit

import "github.com/kilianp07/parlock/core/model"

// SafetyMargin is the fraction of each unit axis kept free for insertion
// clearance and measurement error.
const SafetyMargin = 0.15

// orientations lists the parcel axis assignments tried against the unit
// (length, width, height). Order matters: the first match wins.
var orientations = [4]func(model.Dimensions) [3]float64{
	func(p model.Dimensions) [3]float64 { return [3]float64{p.Length, p.Width, p.Height} },
	func(p model.Dimensions) [3]float64 { return [3]float64{p.Width, p.Length, p.Height} },
	func(p model.Dimensions) [3]float64 { return [3]float64{p.Height, p.Width, p.Length} },
	func(p model.Dimensions) [3]float64 { return [3]float64{p.Height, p.Length, p.Width} },
}

// Tester checks parcels against units with a configurable margin.
type Tester struct {
	Margin float64
	// visit is called for every orientation attempted.
	visit func(i int)
}

// Fits reports whether parcel fits unit using SafetyMargin.
func Fits(parcel, unit model.Dimensions) bool {
	return Tester{Margin: SafetyMargin}.Fits(parcel, unit)
}

// Fits reports whether parcel fits in at least one orientation, comparing
// strictly against the unit shrunk by the margin on every axis.
func (t Tester) Fits(parcel, unit model.Dimensions) bool {
	u := unit.Scale(1 - t.Margin)
	bound := [3]float64{u.Length, u.Width, u.Height}
	for i, orient := range orientations {
		if t.visit != nil {
			t.visit(i)
		}
		p := orient(parcel)
		if p[0] < bound[0] && p[1] < bound[1] && p[2] < bound[2] {
			return true
		}
	}
	return false
}

// FirstFit returns the first available unit, in the given order, that the
// parcel fits in.
func (t Tester) FirstFit(parcel model.Dimensions, units []model.LockerUnit) (model.LockerUnit, bool) {
	for _, u := range units {
		if !u.Available {
			continue
		}
		if t.Fits(parcel, u.Dimensions) {
			return u, true
		}
	}
	return model.LockerUnit{}, false
}

// FirstFit uses the default margin.
func FirstFit(parcel model.Dimensions, units []model.LockerUnit) (model.LockerUnit, bool) {
	return Tester{Margin: SafetyMargin}.FirstFit(parcel, units)
}
