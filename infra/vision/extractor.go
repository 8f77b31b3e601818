// Package vision implements frame processing on top of OpenCV through gocv.
package vision

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	corevision "github.com/kilianp07/parlock/core/vision"
)

// ExtractorConfig tunes the edge pipeline.
type ExtractorConfig struct {
	BlurKernel       int     `json:"blur_kernel"`
	CannyLow         float32 `json:"canny_low"`
	CannyHigh        float32 `json:"canny_high"`
	DilateIterations int     `json:"dilate_iterations"`
	ErodeIterations  int     `json:"erode_iterations"`
}

// SetDefaults fills the values used on the scanning platform.
func (c *ExtractorConfig) SetDefaults() {
	if c.BlurKernel == 0 {
		c.BlurKernel = 7
	}
	if c.CannyLow == 0 {
		c.CannyLow = 30
	}
	if c.CannyHigh == 0 {
		c.CannyHigh = 50
	}
	if c.DilateIterations == 0 {
		c.DilateIterations = 2
	}
	if c.ErodeIterations == 0 {
		c.ErodeIterations = 1
	}
}

// ContourExtractor finds the outer contours of a frame and reduces each one
// to its minimum-area rectangle.
type ContourExtractor struct {
	cfg ExtractorConfig
}

var _ corevision.RegionExtractor = (*ContourExtractor)(nil)

func NewContourExtractor(cfg ExtractorConfig) *ContourExtractor {
	cfg.SetDefaults()
	if cfg.BlurKernel%2 == 0 {
		cfg.BlurKernel++
	}
	return &ContourExtractor{cfg: cfg}
}

func decode(f corevision.Frame) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
	if err != nil {
		return mat, fmt.Errorf("decode frame: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("decoded frame is empty")
	}
	return mat, nil
}

// Extract runs grayscale, blur, Canny and a dilate/erode pass, then returns
// one region per external contour.
func (e *ContourExtractor) Extract(ctx context.Context, f corevision.Frame) ([]corevision.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := decode(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	edged, err := e.edges(img)
	if err != nil {
		edged.Close()
		return nil, err
	}
	defer edged.Close()

	contours := gocv.FindContours(edged, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	regions := make([]corevision.Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		rect := gocv.MinAreaRect(c)
		if len(rect.Points) != 4 {
			continue
		}
		var box [4]corevision.Point
		for j, p := range rect.Points {
			box[j] = corevision.Point{X: float64(p.X), Y: float64(p.Y)}
		}
		regions = append(regions, corevision.NewRegion(box, gocv.ContourArea(c)))
	}
	return regions, nil
}

func (e *ContourExtractor) edges(img gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(img, &gray, gocv.ColorBGRToGray); err != nil {
		return gocv.NewMat(), fmt.Errorf("convert to grayscale: %w", err)
	}
	blurred := gocv.NewMat()
	defer blurred.Close()
	k := e.cfg.BlurKernel
	if err := gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault); err != nil {
		return gocv.NewMat(), fmt.Errorf("blur: %w", err)
	}

	edged := gocv.NewMat()
	if err := gocv.Canny(blurred, &edged, e.cfg.CannyLow, e.cfg.CannyHigh); err != nil {
		edged.Close()
		return gocv.NewMat(), fmt.Errorf("canny: %w", err)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	for i := 0; i < e.cfg.DilateIterations; i++ {
		if err := gocv.Dilate(edged, &edged, kernel); err != nil {
			edged.Close()
			return gocv.NewMat(), fmt.Errorf("dilate: %w", err)
		}
	}
	for i := 0; i < e.cfg.ErodeIterations; i++ {
		if err := gocv.Erode(edged, &edged, kernel); err != nil {
			edged.Close()
			return gocv.NewMat(), fmt.Errorf("erode: %w", err)
		}
	}
	return edged, nil
}
