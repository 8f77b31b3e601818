// Package camera provides frame sources that do not need a video device and
// the still archive.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/kilianp07/parlock/core/vision"
)

// FileCamera replays image files as stills, cycling through them. It backs
// dry runs and bench calibration.
type FileCamera struct {
	mu    sync.Mutex
	paths []string
	next  int
	now   func() time.Time
}

var _ vision.Camera = (*FileCamera)(nil)

// NewFileCamera accepts files or glob patterns.
func NewFileCamera(patterns ...string) (*FileCamera, error) {
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image matches %s", strings.Join(patterns, ", "))
	}
	return &FileCamera{paths: paths, now: time.Now}, nil
}

// Capture loads the next file, applies its EXIF orientation and returns it
// JPEG encoded.
func (c *FileCamera) Capture(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}
	c.mu.Lock()
	path := c.paths[c.next%len(c.paths)]
	c.next++
	c.mu.Unlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return vision.Frame{}, fmt.Errorf("open still %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return vision.Frame{}, fmt.Errorf("encode still %s: %w", path, err)
	}
	return vision.Frame{Data: buf.Bytes(), Format: "jpg", CapturedAt: c.now()}, nil
}
