package vision

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoObjectDetected is returned when no parcel region survives filtering.
	ErrNoObjectDetected = errors.New("no object detected")
	// ErrAmbiguousFiducial is returned when the reference region cannot be
	// used for scaling.
	ErrAmbiguousFiducial = errors.New("ambiguous fiducial")
	// ErrNoQRCode is returned by decoders when the frame holds no readable
	// code.
	ErrNoQRCode = errors.New("no qr code")
)

// Frame is one encoded still image.
type Frame struct {
	Data       []byte
	Format     string
	CapturedAt time.Time
}

// Camera produces a still frame on demand.
type Camera interface {
	Capture(ctx context.Context) (Frame, error)
}

// RegionExtractor detects contour regions in a frame.
type RegionExtractor interface {
	Extract(ctx context.Context, f Frame) ([]Region, error)
}

// QRDecoder reads the payload of the QR code visible in a frame.
type QRDecoder interface {
	Decode(ctx context.Context, f Frame) (string, error)
}

// Policy selects how pixel extents are turned into millimetres.
type Policy int

const (
	// DistanceCorrected compensates for the parcel top being closer to the
	// camera than the platform the fiducial lies on.
	DistanceCorrected Policy = iota
	// FlatRatio ignores depth.
	FlatRatio
)

func (p Policy) String() string {
	switch p {
	case DistanceCorrected:
		return "distance_corrected"
	case FlatRatio:
		return "flat_ratio"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "distance_corrected":
		return DistanceCorrected, true
	case "flat_ratio":
		return FlatRatio, true
	}
	return DistanceCorrected, false
}
