package vision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	corevision "github.com/kilianp07/parlock/core/vision"
)

// CaptureConfig describes the video device used for stills.
type CaptureConfig struct {
	Device string `json:"device"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// Warmup frames are read and dropped before each still so that exposure
	// settles.
	Warmup int `json:"warmup"`
}

// DeviceCamera grabs stills from a V4L2 or similar device.
type DeviceCamera struct {
	mu     sync.Mutex
	cfg    CaptureConfig
	webcam *gocv.VideoCapture
	now    func() time.Time
}

var _ corevision.Camera = (*DeviceCamera)(nil)

// OpenDeviceCamera opens cfg.Device, which is either an index or a path.
func OpenDeviceCamera(cfg CaptureConfig) (*DeviceCamera, error) {
	if cfg.Device == "" {
		cfg.Device = "0"
	}
	if cfg.Warmup == 0 {
		cfg.Warmup = 3
	}
	webcam, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", cfg.Device, err)
	}
	if cfg.Width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	return &DeviceCamera{cfg: cfg, webcam: webcam, now: time.Now}, nil
}

// Capture reads one still and returns it JPEG encoded.
func (c *DeviceCamera) Capture(ctx context.Context) (corevision.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img := gocv.NewMat()
	defer img.Close()
	for i := 0; i <= c.cfg.Warmup; i++ {
		if err := ctx.Err(); err != nil {
			return corevision.Frame{}, err
		}
		if ok := c.webcam.Read(&img); !ok {
			return corevision.Frame{}, fmt.Errorf("cannot read camera %s", c.cfg.Device)
		}
	}
	if img.Empty() {
		return corevision.Frame{}, fmt.Errorf("camera %s returned an empty frame", c.cfg.Device)
	}
	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return corevision.Frame{}, fmt.Errorf("encode still: %w", err)
	}
	defer buf.Close()
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return corevision.Frame{Data: data, Format: "jpg", CapturedAt: c.now()}, nil
}

// Close releases the device.
func (c *DeviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webcam.Close()
}
