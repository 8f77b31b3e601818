package app

import (
	"fmt"
	"io"

	"github.com/kilianp07/parlock/config"
	"github.com/kilianp07/parlock/core/ranging"
	corevision "github.com/kilianp07/parlock/core/vision"
	"github.com/kilianp07/parlock/infra/camera"
	"github.com/kilianp07/parlock/infra/logger"
	infraranging "github.com/kilianp07/parlock/infra/ranging"
	infravision "github.com/kilianp07/parlock/infra/vision"
)

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Hardware groups the platform components shared by the run and calibrate
// commands.
type Hardware struct {
	Ranging   *ranging.Estimator
	Camera    corevision.Camera
	Estimator *corevision.Estimator
	QR        corevision.QRDecoder

	closers []io.Closer
}

// OpenHardware builds the ranging sensor, the camera and the vision pipeline
// from cfg.
func OpenHardware(cfg *config.Config) (*Hardware, error) {
	h := &Hardware{}
	sensor, err := infraranging.Registry.Create(cfg.Ranging.Sensor)
	if err != nil {
		return nil, fmt.Errorf("ranging sensor: %w", err)
	}
	if c, ok := sensor.(io.Closer); ok {
		h.closers = append(h.closers, c)
	}
	h.Ranging = ranging.NewEstimator(sensor,
		ranging.WithSamples(cfg.Ranging.Samples),
		ranging.WithSettle(cfg.Ranging.Settle()),
		ranging.WithLogger(logger.New("ranging")),
	)

	cam, err := h.openCamera(cfg.Camera)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	h.Camera = cam

	extractor := infravision.NewContourExtractor(infravision.ExtractorConfig{
		BlurKernel: cfg.Vision.BlurKernel,
		CannyLow:   cfg.Vision.CannyLow,
		CannyHigh:  cfg.Vision.CannyHigh,
	})
	h.Estimator = corevision.NewEstimator(extractor, cfg.Vision.Estimator())
	qr := infravision.NewQRDecoder()
	h.QR = qr
	h.closers = append(h.closers, qr)
	return h, nil
}

func (h *Hardware) openCamera(cfg config.CameraConfig) (corevision.Camera, error) {
	var cam corevision.Camera
	switch cfg.Source {
	case "file":
		fc, err := camera.NewFileCamera(cfg.Files...)
		if err != nil {
			return nil, fmt.Errorf("file camera: %w", err)
		}
		cam = fc
	default:
		dc, err := infravision.OpenDeviceCamera(infravision.CaptureConfig{
			Device: cfg.Device,
			Width:  cfg.Width,
			Height: cfg.Height,
			Warmup: cfg.Warmup,
		})
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, dc)
		cam = dc
	}
	return camera.NewArchive(cam, camera.ArchiveConfig{Dir: cfg.SaveDir, ThumbWidth: cfg.ThumbWidth}, logger.New("camera"))
}

// Close releases devices in reverse order of opening.
func (h *Hardware) Close() error {
	var first error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	h.closers = nil
	return first
}
