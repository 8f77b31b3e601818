package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/kilianp07/parlock/core/logger"
	"github.com/kilianp07/parlock/core/vision"
)

// ArchiveConfig controls where stills are kept.
type ArchiveConfig struct {
	Dir string `json:"save_dir"`
	// ThumbWidth resizes archived stills, keeping the aspect ratio. Zero
	// keeps the original size.
	ThumbWidth int `json:"thumb_width"`
}

// Archive wraps a Camera and stores a copy of every still it returns.
// Archiving failures are logged and never fail the capture.
type Archive struct {
	cam vision.Camera
	cfg ArchiveConfig
	log logger.Logger
}

var _ vision.Camera = (*Archive)(nil)

// NewArchive returns cam unchanged when cfg.Dir is empty.
func NewArchive(cam vision.Camera, cfg ArchiveConfig, log logger.Logger) (vision.Camera, error) {
	if cfg.Dir == "" {
		return cam, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Archive{cam: cam, cfg: cfg, log: logger.OrNop(log)}, nil
}

func (a *Archive) Capture(ctx context.Context) (vision.Frame, error) {
	f, err := a.cam.Capture(ctx)
	if err != nil {
		return f, err
	}
	if err := a.save(f); err != nil {
		a.log.Warnf("archive still: %v", err)
	}
	return f, nil
}

func (a *Archive) save(f vision.Frame) error {
	img, err := imaging.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return fmt.Errorf("decode still: %w", err)
	}
	if a.cfg.ThumbWidth > 0 && img.Bounds().Dx() > a.cfg.ThumbWidth {
		img = imaging.Resize(img, a.cfg.ThumbWidth, 0, imaging.Lanczos)
	}
	name := fmt.Sprintf("still-%s.jpg", f.CapturedAt.UTC().Format("20060102T150405.000"))
	return imaging.Save(img, filepath.Join(a.cfg.Dir, name))
}
