package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/parlock/core/vision"
)

func writeStill(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{200, 200, 200, 255})
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestFileCameraCycles(t *testing.T) {
	dir := t.TempDir()
	writeStill(t, dir, "a.png", 40, 20)
	writeStill(t, dir, "b.png", 20, 40)

	cam, err := NewFileCamera(filepath.Join(dir, "*.png"))
	require.NoError(t, err)

	var widths []int
	for i := 0; i < 3; i++ {
		f, err := cam.Capture(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "jpg", f.Format)
		img, err := imaging.Decode(bytes.NewReader(f.Data))
		require.NoError(t, err)
		widths = append(widths, img.Bounds().Dx())
	}
	assert.Equal(t, []int{40, 20, 40}, widths)

	_, err = NewFileCamera(filepath.Join(dir, "*.gif"))
	assert.Error(t, err)
}

type stubCamera struct {
	frame vision.Frame
	err   error
}

func (s stubCamera) Capture(context.Context) (vision.Frame, error) { return s.frame, s.err }

func TestArchiveStoresThumbnails(t *testing.T) {
	src := imaging.New(800, 600, color.NRGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, src, imaging.JPEG))
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	dir := t.TempDir()
	cam, err := NewArchive(stubCamera{frame: vision.Frame{Data: buf.Bytes(), Format: "jpg", CapturedAt: at}},
		ArchiveConfig{Dir: dir, ThumbWidth: 200}, nil)
	require.NoError(t, err)
	_, err = cam.Capture(context.Background())
	require.NoError(t, err)

	saved, err := imaging.Open(filepath.Join(dir, "still-20260301T093000.000.jpg"))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 150), saved.Bounds())
}

func TestArchivePassThrough(t *testing.T) {
	inner := stubCamera{err: errors.New("no device")}
	cam, err := NewArchive(inner, ArchiveConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, inner, cam)

	cam, err = NewArchive(inner, ArchiveConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	_, err = cam.Capture(context.Background())
	assert.Error(t, err)
}
