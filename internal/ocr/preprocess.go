package ocr

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// MaxImageDimension bounds the longest image side sent to Vision.
const MaxImageDimension = 2048

// Preprocess prepares a scanned image for OCR: it applies EXIF orientation,
// scales the image down to fit MaxImageDimension, converts it to grayscale
// and raises contrast. The result is PNG encoded.
func Preprocess(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img = imaging.Fit(img, MaxImageDimension, MaxImageDimension, imaging.Lanczos)
	img = imaging.Grayscale(img)
	img = imaging.AdjustContrast(img, 20)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
