package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	corevision "github.com/kilianp07/parlock/core/vision"
)

var (
	fiducialColor = color.RGBA{0, 0, 255, 0}
	parcelColor   = color.RGBA{0, 255, 0, 0}
)

// Annotate draws the fiducial and parcel outlines of m on f with their
// measured sides and returns the result as JPEG.
func Annotate(f corevision.Frame, m corevision.Measurement) ([]byte, error) {
	img, err := decode(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	if err := outline(&img, m.Fiducial, fiducialColor); err != nil {
		return nil, err
	}
	if err := outline(&img, m.Parcel, parcelColor); err != nil {
		return nil, err
	}
	if err := label(&img, m.Parcel, parcelColor); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return nil, fmt.Errorf("encode annotated frame: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

func pt(p corevision.Point) image.Point {
	return image.Pt(int(p.X), int(p.Y))
}

func outline(img *gocv.Mat, r corevision.Region, c color.RGBA) error {
	for i := range r.Corners {
		a, b := r.Corners[i], r.Corners[(i+1)%len(r.Corners)]
		if err := gocv.Line(img, pt(a), pt(b), c, 2); err != nil {
			return fmt.Errorf("draw outline: %w", err)
		}
	}
	return nil
}

func label(img *gocv.Mat, r corevision.Region, c color.RGBA) error {
	tl, tr, bl := r.Corners[0], r.Corners[1], r.Corners[3]
	top := image.Pt(int((tl.X+tr.X)/2)-15, int((tl.Y+tr.Y)/2)-10)
	left := image.Pt(int((tl.X+bl.X)/2)+10, int((tl.Y+bl.Y)/2))
	if err := gocv.PutText(img, fmt.Sprintf("%.1fmm", r.Width), top, gocv.FontHersheySimplex, 0.65, c, 2); err != nil {
		return fmt.Errorf("draw label: %w", err)
	}
	if err := gocv.PutText(img, fmt.Sprintf("%.1fmm", r.Length), left, gocv.FontHersheySimplex, 0.65, c, 2); err != nil {
		return fmt.Errorf("draw label: %w", err)
	}
	return nil
}
