package model

import "fmt"

// Calibration holds the values measured once at startup. It is passed by value
// and never mutated after the locker base enters its scan loop.
type Calibration struct {
	// FullDistance is the ranging reading to the empty platform in millimetres.
	FullDistance float64 `json:"full_distance"`
	// PixelsPerMetric is the fiducial pixel width divided by its real width.
	// Zero when no fiducial image was available during calibration.
	PixelsPerMetric float64 `json:"pixels_per_metric"`
}

// Validate checks that a usable baseline was captured.
func (c Calibration) Validate() error {
	if c.FullDistance <= 0 {
		return fmt.Errorf("invalid full distance %.2f", c.FullDistance)
	}
	if c.PixelsPerMetric < 0 {
		return fmt.Errorf("invalid pixels per metric %.4f", c.PixelsPerMetric)
	}
	return nil
}
