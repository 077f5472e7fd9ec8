package frame

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// MIMEType is the type of encoded frames.
const MIMEType = "image/jpeg"

// EncodeOpts controls the size and quality of encoded frames. Smaller frames
// mean smaller requests to the model.
type EncodeOpts struct {
	MaxWidth  int // Default 640.
	MaxHeight int // Default 480.
	Quality   int // JPEG quality, 1-100. Default 60.
}

func (o EncodeOpts) withDefaults() EncodeOpts {
	if o.MaxWidth <= 0 {
		o.MaxWidth = 640
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = 480
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 60
	}
	return o
}

// Encode scales img down to fit the maximum size, keeping its aspect ratio, and
// encodes it as lossy JPEG. It returns the encoded image and its size.
func Encode(img image.Image, opts EncodeOpts) ([]byte, image.Point, error) {
	opts = opts.withDefaults()

	size := img.Bounds().Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil, image.Point{}, fmt.Errorf("degenerate image size %v", size)
	}
	if size.X > opts.MaxWidth || size.Y > opts.MaxHeight {
		img = imaging.Fit(img, opts.MaxWidth, opts.MaxHeight, imaging.Linear)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, image.Point{}, fmt.Errorf("encoding jpeg: %v", err)
	}
	return buf.Bytes(), img.Bounds().Size(), nil
}
