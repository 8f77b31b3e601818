package vision

import (
	"context"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	corevision "github.com/kilianp07/parlock/core/vision"
)

// QRDecoder reads QR codes with the OpenCV detector.
type QRDecoder struct {
	mu  sync.Mutex
	det *gocv.QRCodeDetector
}

var _ corevision.QRDecoder = (*QRDecoder)(nil)

func NewQRDecoder() *QRDecoder {
	det := gocv.NewQRCodeDetector()
	return &QRDecoder{det: &det}
}

// Decode returns the payload of the first QR code in f or
// corevision.ErrNoQRCode.
func (q *QRDecoder) Decode(ctx context.Context, f corevision.Frame) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := decode(f)
	if err != nil {
		return "", err
	}
	defer img.Close()
	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	q.mu.Lock()
	payload := q.det.DetectAndDecode(img, &points, &straight)
	q.mu.Unlock()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", corevision.ErrNoQRCode
	}
	return payload, nil
}

// Close releases the detector.
func (q *QRDecoder) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.det.Close()
}
