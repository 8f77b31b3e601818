package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/parlock/core/model"
)

func box(x, y, w, h float64) Region {
	return NewRegion([4]Point{{x + w, y + h}, {x, y}, {x + w, y}, {x, y + h}}, w*h)
}

func TestOrderCorners(t *testing.T) {
	got := OrderCorners([4]Point{{10, 20}, {0, 0}, {10, 0}, {0, 20}})
	assert.Equal(t, [4]Point{{0, 0}, {10, 0}, {10, 20}, {0, 20}}, got)

	// rotated square, diamond shape
	got = OrderCorners([4]Point{{5, 0}, {10, 5}, {5, 10}, {0, 5}})
	assert.Equal(t, [4]Point{{5, 0}, {10, 5}, {5, 10}, {0, 5}}, got)
}

func TestNewRegionExtents(t *testing.T) {
	r := box(0, 0, 200, 100)
	assert.InDelta(t, 100.0, r.PixelLength, 1e-9)
	assert.InDelta(t, 200.0, r.PixelWidth, 1e-9)
	assert.Equal(t, 20000.0, r.Area)
	assert.Equal(t, 0.0, r.MinX())
}

func scene() []Region {
	return []Region{
		box(100, 50, 200, 100), // parcel
		box(400, 10, 20, 20),   // speck
		box(10, 10, 48, 48),    // fiducial
		box(50, 300, 300, 20),  // sliver
		box(350, 200, 60, 60),  // smaller object
	}
}

func TestFilterOrder(t *testing.T) {
	e := NewEstimator(nil, Config{})
	got := e.Filter(scene())
	require.Len(t, got, 3)
	assert.Equal(t, 10.0, got[0].MinX())
	assert.Equal(t, 100.0, got[1].MinX())
	assert.Equal(t, 350.0, got[2].MinX())
}

func TestFilterAreaBoundary(t *testing.T) {
	e := NewEstimator(nil, Config{})
	corners := [4]Point{{0, 0}, {30, 0}, {30, 50}, {0, 50}}
	assert.Empty(t, e.Filter([]Region{NewRegion(corners, DefaultMinArea)}))
	assert.Len(t, e.Filter([]Region{NewRegion(corners, DefaultMinArea+1)}), 1)
}

func TestMeasurePolicies(t *testing.T) {
	e := NewEstimator(nil, Config{})
	cal := model.Calibration{FullDistance: 300}

	m, err := e.Measure(scene(), cal, 250, FlatRatio)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, m.Dimensions.Length, 1e-9)
	assert.InDelta(t, 100.0, m.Dimensions.Width, 1e-9)
	assert.InDelta(t, 50.0, m.Dimensions.Height, 1e-9)
	assert.Equal(t, 20000.0, m.Parcel.Area)
	assert.Equal(t, 24.0, m.Fiducial.Length)

	m, err = e.Measure(scene(), cal, 250, DistanceCorrected)
	require.NoError(t, err)
	assert.InDelta(t, 100*250*24/(48*300.0), m.Dimensions.Length, 1e-9)
	assert.InDelta(t, 200*250*24/(48*300.0), m.Dimensions.Width, 1e-9)
	assert.InDelta(t, 50.0, m.Dimensions.Height, 1e-9)
}

func TestScaleRoundTrip(t *testing.T) {
	fid := box(0, 0, 48, 40)
	fid.Length, fid.Width = 30, 24
	parcel := box(100, 100, 48, 40)
	cal := model.Calibration{FullDistance: 300}
	for _, p := range []Policy{FlatRatio, DistanceCorrected} {
		l, w, err := Scale(parcel, fid, cal, cal.FullDistance, p)
		require.NoError(t, err, p.String())
		assert.InDelta(t, 30.0, l, 1e-9, p.String())
		assert.InDelta(t, 24.0, w, 1e-9, p.String())
	}
}

func TestMeasureErrors(t *testing.T) {
	e := NewEstimator(nil, Config{})
	cal := model.Calibration{FullDistance: 300}

	_, err := e.Measure(nil, cal, 250, FlatRatio)
	assert.ErrorIs(t, err, ErrNoObjectDetected)

	_, err = e.Measure([]Region{box(10, 10, 48, 48)}, cal, 250, FlatRatio)
	assert.ErrorIs(t, err, ErrNoObjectDetected)

	flat := box(0, 0, 0, 100)
	flat.Area = 2000
	_, err = e.Measure([]Region{flat, box(100, 50, 200, 100)}, cal, 250, FlatRatio)
	assert.ErrorIs(t, err, ErrAmbiguousFiducial)

	bad := NewEstimator(nil, Config{FiducialSize: -1})
	_, err = bad.Measure(scene(), cal, 250, FlatRatio)
	assert.ErrorIs(t, err, ErrAmbiguousFiducial)

	// object top at platform level
	_, err = e.Measure(scene(), cal, 300, FlatRatio)
	assert.ErrorIs(t, err, ErrNoObjectDetected)

	_, err = e.Measure(scene(), model.Calibration{}, 250, DistanceCorrected)
	assert.Error(t, err)
}

type stubExtractor struct {
	regions []Region
	err     error
}

func (s stubExtractor) Extract(context.Context, Frame) ([]Region, error) { return s.regions, s.err }

func TestEstimate(t *testing.T) {
	e := NewEstimator(stubExtractor{regions: scene()}, Config{})
	m, err := e.Estimate(context.Background(), Frame{}, model.Calibration{FullDistance: 300}, 250, FlatRatio)
	require.NoError(t, err)
	assert.Equal(t, FlatRatio, m.Policy)

	boom := errors.New("decode failed")
	e = NewEstimator(stubExtractor{err: boom}, Config{})
	_, err = e.Estimate(context.Background(), Frame{}, model.Calibration{FullDistance: 300}, 250, FlatRatio)
	assert.ErrorIs(t, err, boom)
}

func TestCalibratePixelsPerMetric(t *testing.T) {
	e := NewEstimator(nil, Config{})
	cal, err := e.Calibrate(scene(), model.Calibration{FullDistance: 300})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, cal.PixelsPerMetric, 1e-9)
	assert.Equal(t, 300.0, cal.FullDistance)

	_, err = e.Calibrate(nil, model.Calibration{FullDistance: 300})
	assert.ErrorIs(t, err, ErrAmbiguousFiducial)

	e = NewEstimator(stubExtractor{regions: scene()}, Config{})
	cal, err = e.CalibrateFrame(context.Background(), Frame{}, model.Calibration{FullDistance: 280})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, cal.PixelsPerMetric, 1e-9)
	assert.Equal(t, 280.0, cal.FullDistance)
}

func TestParsePolicy(t *testing.T) {
	p, ok := ParsePolicy("flat_ratio")
	assert.True(t, ok)
	assert.Equal(t, FlatRatio, p)
	_, ok = ParsePolicy("bogus")
	assert.False(t, ok)
}
