package vision

import (
	"context"
	"fmt"

	"github.com/kilianp07/parlock/core/model"
)

const (
	DefaultMinArea      = 1500.0
	DefaultFilterRatio  = 0.25
	DefaultFiducialSize = 24.0
)

// Config tunes region filtering and the fiducial geometry.
type Config struct {
	// FiducialSize is the side of the square reference in millimetres.
	FiducialSize float64
	// MinArea drops contours whose area does not exceed this many square
	// pixels.
	MinArea float64
	// FilterRatio drops slivers whose side ratio, either way, is at or below
	// this fraction.
	FilterRatio float64
}

func (c *Config) setDefaults() {
	if c.FiducialSize == 0 {
		c.FiducialSize = DefaultFiducialSize
	}
	if c.MinArea == 0 {
		c.MinArea = DefaultMinArea
	}
	if c.FilterRatio == 0 {
		c.FilterRatio = DefaultFilterRatio
	}
}

// Measurement is the outcome of one estimate.
type Measurement struct {
	Dimensions model.Dimensions
	Fiducial   Region
	Parcel     Region
	Policy     Policy
}

// Estimator turns a frame into parcel dimensions.
type Estimator struct {
	cfg       Config
	extractor RegionExtractor
}

// NewEstimator returns an Estimator using extractor for contour detection.
func NewEstimator(extractor RegionExtractor, cfg Config) *Estimator {
	cfg.setDefaults()
	return &Estimator{cfg: cfg, extractor: extractor}
}

// Estimate extracts regions from f and measures the parcel. depth is the
// ranging reading to the parcel top.
func (e *Estimator) Estimate(ctx context.Context, f Frame, cal model.Calibration, depth float64, p Policy) (Measurement, error) {
	regions, err := e.extractor.Extract(ctx, f)
	if err != nil {
		return Measurement{}, fmt.Errorf("extract regions: %w", err)
	}
	return e.Measure(regions, cal, depth, p)
}

// Filter applies the area and ratio rules and returns the survivors in
// reading order. Degenerate regions are kept so that a broken fiducial is
// reported rather than silently replaced by the next region.
func (e *Estimator) Filter(regions []Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Area <= e.cfg.MinArea {
			continue
		}
		out = append(out, r)
	}
	SortReading(out)
	kept := out[:0]
	for _, r := range out {
		if !r.Degenerate() &&
			(r.PixelLength/r.PixelWidth <= e.cfg.FilterRatio || r.PixelWidth/r.PixelLength <= e.cfg.FilterRatio) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// Measure selects the fiducial and parcel among regions and scales the
// parcel. The fiducial is the first survivor in reading order and the parcel
// is the largest of the rest.
func (e *Estimator) Measure(regions []Region, cal model.Calibration, depth float64, p Policy) (Measurement, error) {
	survivors := e.Filter(regions)
	if len(survivors) == 0 {
		return Measurement{}, fmt.Errorf("no region after filtering: %w", ErrNoObjectDetected)
	}
	fid := survivors[0]
	if err := e.checkFiducial(fid); err != nil {
		return Measurement{}, err
	}
	if len(survivors) == 1 {
		return Measurement{}, fmt.Errorf("only the fiducial is visible: %w", ErrNoObjectDetected)
	}
	parcel := survivors[1]
	for _, r := range survivors[2:] {
		if r.Area > parcel.Area {
			parcel = r
		}
	}

	fid.Length, fid.Width = e.cfg.FiducialSize, e.cfg.FiducialSize
	length, width, err := Scale(parcel, fid, cal, depth, p)
	if err != nil {
		return Measurement{}, err
	}
	parcel.Length, parcel.Width = length, width
	dims := model.Dimensions{Length: length, Width: width, Height: cal.FullDistance - depth}
	if !dims.Valid() {
		return Measurement{}, fmt.Errorf("measured %s: %w", dims, ErrNoObjectDetected)
	}
	return Measurement{Dimensions: dims, Fiducial: fid, Parcel: parcel, Policy: p}, nil
}

func (e *Estimator) checkFiducial(fid Region) error {
	if e.cfg.FiducialSize <= 0 {
		return fmt.Errorf("fiducial size %.2f: %w", e.cfg.FiducialSize, ErrAmbiguousFiducial)
	}
	if fid.Degenerate() {
		return fmt.Errorf("fiducial extent %.2fx%.2fpx: %w", fid.PixelLength, fid.PixelWidth, ErrAmbiguousFiducial)
	}
	return nil
}

// Scale converts the pixel extents of r into millimetres using fid, whose
// Length and Width must hold its real size. Each axis is scaled against the
// matching fiducial axis.
func Scale(r, fid Region, cal model.Calibration, depth float64, p Policy) (length, width float64, err error) {
	if fid.Degenerate() || fid.Length <= 0 || fid.Width <= 0 {
		return 0, 0, ErrAmbiguousFiducial
	}
	switch p {
	case FlatRatio:
		return r.PixelLength / fid.PixelLength * fid.Length,
			r.PixelWidth / fid.PixelWidth * fid.Width, nil
	case DistanceCorrected:
		if cal.FullDistance <= 0 {
			return 0, 0, fmt.Errorf("distance corrected scaling without full distance")
		}
		if depth <= 0 {
			return 0, 0, fmt.Errorf("distance corrected scaling with depth %.2f", depth)
		}
		return r.PixelLength * depth * fid.Length / (fid.PixelLength * cal.FullDistance),
			r.PixelWidth * depth * fid.Width / (fid.PixelWidth * cal.FullDistance), nil
	default:
		return 0, 0, fmt.Errorf("unknown scaling policy %d", p)
	}
}

// PixelsPerMetric returns the pixel width of the fiducial per millimetre.
func PixelsPerMetric(fid Region, side float64) (float64, error) {
	if side <= 0 || fid.Degenerate() {
		return 0, ErrAmbiguousFiducial
	}
	return fid.PixelWidth / side, nil
}

// Calibrate locates the fiducial among regions and fills the pixels per
// metric of cal.
func (e *Estimator) Calibrate(regions []Region, cal model.Calibration) (model.Calibration, error) {
	survivors := e.Filter(regions)
	if len(survivors) == 0 {
		return cal, fmt.Errorf("no fiducial in view: %w", ErrAmbiguousFiducial)
	}
	ppm, err := PixelsPerMetric(survivors[0], e.cfg.FiducialSize)
	if err != nil {
		return cal, err
	}
	cal.PixelsPerMetric = ppm
	return cal, nil
}

// CalibrateFrame extracts regions from a frame of the empty platform and
// fills the pixels per metric of cal.
func (e *Estimator) CalibrateFrame(ctx context.Context, f Frame, cal model.Calibration) (model.Calibration, error) {
	regions, err := e.extractor.Extract(ctx, f)
	if err != nil {
		return cal, fmt.Errorf("extract regions: %w", err)
	}
	return e.Calibrate(regions, cal)
}
