// Package localize turns dense heatmaps back into landmark coordinates.
package localize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// Detection is an integer landmark position in pixel units.
type Detection struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Locate returns the position of the maximum of every (image, landmark) plane of a
// (B, L, H, W) heatmap tensor. The plane is searched in row-major order and the
// first maximum wins, so ties resolve to the lowest row, then the lowest column.
func Locate(heatmaps *tensor.Dense) ([][]Detection, error) {
	if err := tensor.CheckShape(heatmaps, -1, -1, -1, -1); err != nil {
		return nil, fmt.Errorf("heatmaps: %w", err)
	}
	b, l, w := heatmaps.Dim(0), heatmaps.Dim(1), heatmaps.Dim(3)

	out := make([][]Detection, b)
	for i := range out {
		out[i] = make([]Detection, l)
		for j := range out[i] {
			idx := floats.MaxIdx(heatmaps.Plane(i, j))
			out[i][j] = Detection{X: idx % w, Y: idx / w}
		}
	}
	return out, nil
}

// ToTensor packs detections into a (B, L, 2) point tensor.
func ToTensor(dets [][]Detection) (*tensor.Dense, error) {
	if len(dets) == 0 || len(dets[0]) == 0 {
		return nil, fmt.Errorf("%w: no detections", tensor.ErrInvalidShape)
	}
	b, l := len(dets), len(dets[0])
	points, err := tensor.New(b, l, 2)
	if err != nil {
		return nil, err
	}
	data := points.Data()
	for i, row := range dets {
		if len(row) != l {
			return nil, fmt.Errorf("%w: image %d has %d landmarks, want %d", tensor.ErrShapeMismatch, i, len(row), l)
		}
		for j, d := range row {
			data[2*(i*l+j)] = float64(d.X)
			data[2*(i*l+j)+1] = float64(d.Y)
		}
	}
	return points, nil
}

// ClampPoints returns a copy of a (B, L, 2) point tensor with every coordinate
// clamped into [0, W-1] x [0, H-1].
func ClampPoints(points *tensor.Dense, size tensor.Size) (*tensor.Dense, error) {
	if err := tensor.CheckShape(points, -1, -1, 2); err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	out := points.Clone()
	data := out.Data()
	for k := 0; k < len(data); k += 2 {
		data[k] = clamp(data[k], float64(size.Width-1))
		data[k+1] = clamp(data[k+1], float64(size.Height-1))
	}
	return out, nil
}

func clamp(v, hi float64) float64 {
	return math.Max(0, math.Min(v, hi))
}

// DecodeOffsets refines integer detections with predicted offset fields.
//
// offsets has shape (B, L, 2, H, W) holding offsets normalized by radius, the same
// layout heatmap.Offsets produces. The result is a (B, L, 2) tensor of real-valued
// points: the detection plus the offset read at the detection, times radius.
func DecodeOffsets(dets [][]Detection, offsets *tensor.Dense, radius float64) (*tensor.Dense, error) {
	points, err := ToTensor(dets)
	if err != nil {
		return nil, err
	}
	b, l := points.Dim(0), points.Dim(1)
	if err := tensor.CheckShape(offsets, b, l, 2, -1, -1); err != nil {
		return nil, fmt.Errorf("offsets: %w", err)
	}
	h, w := offsets.Dim(3), offsets.Dim(4)
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			d := dets[i][j]
			if d.X < 0 || d.X >= w || d.Y < 0 || d.Y >= h {
				return nil, fmt.Errorf("%w: detection (%d,%d) outside %dx%d offsets", tensor.ErrShapeMismatch, d.X, d.Y, h, w)
			}
			points.Set(float64(d.X)+radius*offsets.At(i, j, 0, d.Y, d.X), i, j, 0)
			points.Set(float64(d.Y)+radius*offsets.At(i, j, 1, d.Y, d.X), i, j, 1)
		}
	}
	return points, nil
}
