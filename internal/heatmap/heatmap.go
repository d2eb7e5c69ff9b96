package heatmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// ErrInvalidConfig is returned for non-positive grids, sigmas or radii.
var ErrInvalidConfig = errors.New("invalid field configuration")

// Build creates one Gaussian heatmap per landmark.
//
// points has shape (B, L, 2) in pixel units of grid. The returned heatmaps have
// shape (B, L, H, W) with value
//
//	exp(-0.5 * ((row - y)^2 + (col - x)^2) / sigma^2)
//
// at every pixel. The peak is 1 and the field is not normalized to unit mass.
// The mask has shape (B, L, 1, 1) and is 1 where both coordinates are
// non-negative, 0 otherwise.
//
// The squared row and column distances of every landmark are tabulated first and
// the output is filled in a single pass over the flattened (B, L, H, W) index
// space. The result is bit-identical to BuildEach.
func Build(points *tensor.Dense, grid tensor.Size, sigma float64) (heatmaps, mask *tensor.Dense, err error) {
	if err := checkBuild(points, grid, sigma); err != nil {
		return nil, nil, err
	}

	n := points.Dim(0) * points.Dim(1)
	h, w := grid.Height, grid.Width
	heatmaps, err = tensor.New(points.Dim(0), points.Dim(1), h, w)
	if err != nil {
		return nil, nil, err
	}

	centres := points.Data()
	dy2 := make([]float64, n*h)
	dx2 := make([]float64, n*w)
	for k := 0; k < n; k++ {
		x, y := centres[2*k], centres[2*k+1]
		for row := 0; row < h; row++ {
			d := float64(row) - y
			dy2[k*h+row] = float64(d * d)
		}
		for col := 0; col < w; col++ {
			d := float64(col) - x
			dx2[k*w+col] = float64(d * d)
		}
	}

	variance := sigma * sigma
	plane := h * w
	out := heatmaps.Data()
	for idx := range out {
		k := idx / plane
		row := (idx / w) % h
		col := idx % w
		out[idx] = math.Exp(-0.5 * (dy2[k*h+row] + dx2[k*w+col]) / variance)
	}
	return heatmaps, Mask(points), nil
}

// BuildEach computes the same fields as Build one landmark and one pixel at a
// time.
//
// Both forms convert each squared distance to float64 before summing, which
// rules out fused multiply-add and keeps their rounding identical.
func BuildEach(points *tensor.Dense, grid tensor.Size, sigma float64) (heatmaps, mask *tensor.Dense, err error) {
	if err := checkBuild(points, grid, sigma); err != nil {
		return nil, nil, err
	}

	b, l := points.Dim(0), points.Dim(1)
	heatmaps, err = tensor.New(b, l, grid.Height, grid.Width)
	if err != nil {
		return nil, nil, err
	}

	variance := sigma * sigma
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			x, y := points.At(i, j, 0), points.At(i, j, 1)
			plane := heatmaps.Plane(i, j)
			for row := 0; row < grid.Height; row++ {
				for col := 0; col < grid.Width; col++ {
					dy := float64(row) - y
					dx := float64(col) - x
					plane[row*grid.Width+col] = math.Exp(-0.5 * (float64(dy*dy) + float64(dx*dx)) / variance)
				}
			}
		}
	}
	return heatmaps, Mask(points), nil
}

func checkBuild(points *tensor.Dense, grid tensor.Size, sigma float64) error {
	if !grid.Valid() {
		return fmt.Errorf("%w: grid %s", ErrInvalidConfig, grid)
	}
	if !(sigma > 0) || math.IsInf(sigma, 1) {
		return fmt.Errorf("%w: sigma %v", ErrInvalidConfig, sigma)
	}
	if err := tensor.CheckShape(points, -1, -1, 2); err != nil {
		return fmt.Errorf("points: %w", err)
	}
	return nil
}

// Mask returns the (B, L, 1, 1) validity mask for a (B, L, 2) point tensor.
func Mask(points *tensor.Dense) *tensor.Dense {
	b, l := points.Dim(0), points.Dim(1)
	mask := tensor.Must(tensor.New(b, l, 1, 1))
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			if Valid(points.At(i, j, 0), points.At(i, j, 1)) {
				mask.Set(1, i, j, 0, 0)
			}
		}
	}
	return mask
}

// Valid reports whether a coordinate pair denotes a present landmark.
func Valid(x, y float64) bool {
	return x >= 0 && y >= 0
}

// Offsets creates per-pixel offset fields toward each landmark.
//
// The result has shape (B, L, 2, H, W): channel 0 holds (x - col) / radius and
// channel 1 holds (y - row) / radius. Values are not clipped; beyond the radius
// they are meaningless and must be masked by the loss.
func Offsets(points *tensor.Dense, grid tensor.Size, radius float64) (*tensor.Dense, error) {
	if !grid.Valid() {
		return nil, fmt.Errorf("%w: grid %s", ErrInvalidConfig, grid)
	}
	if !(radius > 0) {
		return nil, fmt.Errorf("%w: radius %v", ErrInvalidConfig, radius)
	}
	if err := tensor.CheckShape(points, -1, -1, 2); err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}

	b, l := points.Dim(0), points.Dim(1)
	h, w := grid.Height, grid.Width
	offsets, err := tensor.New(b, l, 2, h, w)
	if err != nil {
		return nil, err
	}
	data := offsets.Data()
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			x := points.At(i, j, 0)
			y := points.At(i, j, 1)
			xs := data[offsets.Offset(i, j, 0, 0, 0):][:h*w]
			ys := data[offsets.Offset(i, j, 1, 0, 0):][:h*w]
			for row := 0; row < h; row++ {
				for col := 0; col < w; col++ {
					xs[row*w+col] = (x - float64(col)) / radius
					ys[row*w+col] = (y - float64(row)) / radius
				}
			}
		}
	}
	return offsets, nil
}
