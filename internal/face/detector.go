package face

import (
	"context"
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// GridDetector splits a classroom photo into Rows x Cols cells and treats
// every cell with enough contrast as one face, encoded with SignatureEncoder.
type GridDetector struct {
	Rows int
	Cols int
}

// NewGridDetector returns a detector with at least one row and column.
func NewGridDetector(rows, cols int) GridDetector {
	if rows <= 0 {
		rows = 1
	}
	if cols <= 0 {
		cols = 1
	}
	return GridDetector{Rows: rows, Cols: cols}
}

// Detect implements Detector.
func (d GridDetector) Detect(ctx context.Context, data []byte) ([]DetectedFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	rows, cols := max(d.Rows, 1), max(d.Cols, 1)
	b := img.Bounds()
	rows, cols = min(rows, b.Dy()), min(cols, b.Dx())
	if rows == 0 || cols == 0 {
		return []DetectedFace{}, nil
	}

	var enc SignatureEncoder
	faces := make([]DetectedFace, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cell := image.Rect(
				b.Min.X+c*b.Dx()/cols,
				b.Min.Y+r*b.Dy()/rows,
				b.Min.X+(c+1)*b.Dx()/cols,
				b.Min.Y+(r+1)*b.Dy()/rows,
			)
			encoding, err := enc.encodeImage(imaging.Crop(img, cell))
			if errors.Is(err, ErrNoFace) {
				continue
			}
			if err != nil {
				return nil, err
			}
			faces = append(faces, DetectedFace{
				Box: BoundingBox{
					Top:    cell.Min.Y - b.Min.Y,
					Right:  cell.Max.X - b.Min.X,
					Bottom: cell.Max.Y - b.Min.Y,
					Left:   cell.Min.X - b.Min.X,
				},
				Encoding: encoding,
			})
		}
	}
	return faces, nil
}
