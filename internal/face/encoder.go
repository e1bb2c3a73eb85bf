package face

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	signatureWidth  = 16
	signatureHeight = 8
	// minContrast is the smallest per-sample standard deviation that still
	// counts as a face; anything flatter is blank wall.
	minContrast = 0.01
)

// SignatureEncoder is a deterministic, content-dependent Encoder. It
// reduces the image to a 16x8 grayscale grid and returns the
// mean-centred, unit-length vector of those samples.
type SignatureEncoder struct{}

// Encode implements Encoder.
func (e SignatureEncoder) Encode(ctx context.Context, data []byte) (Encoding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	return e.encodeImage(img)
}

func (SignatureEncoder) encodeImage(img image.Image) (Encoding, error) {
	small := imaging.Resize(imaging.Grayscale(img), signatureWidth, signatureHeight, imaging.Box)

	samples := make([]float64, 0, EncodingSize)
	var sum float64
	for y := 0; y < signatureHeight; y++ {
		for x := 0; x < signatureWidth; x++ {
			v := float64(small.NRGBAAt(x, y).R) / 255
			samples = append(samples, v)
			sum += v
		}
	}

	mean := sum / float64(len(samples))
	var norm float64
	for i := range samples {
		samples[i] -= mean
		norm += samples[i] * samples[i]
	}
	norm = math.Sqrt(norm)

	if norm/math.Sqrt(float64(len(samples))) < minContrast {
		return nil, ErrNoFace
	}
	for i := range samples {
		samples[i] /= norm
	}
	return samples, nil
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}
