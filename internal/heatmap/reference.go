package heatmap

import (
	"fmt"
	"math"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// ReferenceGrids holds constant 2H x 2W fields centred on the reference pixel
// (H, W). Cutting an H x W window at [H-y, 2H-y) x [W-x, 2W-x) moves the centre
// onto the landmark (x, y) without recomputing anything.
type ReferenceGrids struct {
	grid       tensor.Size
	diskRadius float64
	maskRadius float64

	disk    []float64 // 1 within diskRadius of the centre
	mask    []float64 // 1 within maskRadius of the centre
	offsetX []float64 // (W - col) / maskRadius
	offsetY []float64 // (H - row) / maskRadius
}

// NewReferenceGrids precomputes the reference fields for a field size.
//
// diskRadius controls the binary heatmap, maskRadius the offset support and the
// normalization of the offset ramps.
func NewReferenceGrids(grid tensor.Size, diskRadius, maskRadius float64) (*ReferenceGrids, error) {
	if !grid.Valid() {
		return nil, fmt.Errorf("%w: grid %s", ErrInvalidConfig, grid)
	}
	if !(diskRadius > 0) || !(maskRadius > 0) {
		return nil, fmt.Errorf("%w: radii %v, %v", ErrInvalidConfig, diskRadius, maskRadius)
	}

	h2, w2 := 2*grid.Height, 2*grid.Width
	g := &ReferenceGrids{
		grid:       grid,
		diskRadius: diskRadius,
		maskRadius: maskRadius,
		disk:       make([]float64, h2*w2),
		mask:       make([]float64, h2*w2),
		offsetX:    make([]float64, h2*w2),
		offsetY:    make([]float64, h2*w2),
	}

	cy, cx := float64(grid.Height), float64(grid.Width)
	for row := 0; row < h2; row++ {
		for col := 0; col < w2; col++ {
			i := row*w2 + col
			d := math.Hypot(float64(row)-cy, float64(col)-cx)
			if d <= diskRadius {
				g.disk[i] = 1
			}
			if d <= maskRadius {
				g.mask[i] = 1
			}
			g.offsetX[i] = (cx - float64(col)) / maskRadius
			g.offsetY[i] = (cy - float64(row)) / maskRadius
		}
	}
	return g, nil
}

// Grid returns the size of the fields cut from the reference grids.
func (g *ReferenceGrids) Grid() tensor.Size { return g.grid }

// anchor rounds a landmark to the pixel grid and clamps it inside the field.
func (g *ReferenceGrids) anchor(x, y float64) (int, int) {
	xi := clampInt(int(math.Round(x)), 0, g.grid.Width-1)
	yi := clampInt(int(math.Round(y)), 0, g.grid.Height-1)
	return xi, yi
}

// window copies the H x W window of src centred on (x, y) into dst.
func (g *ReferenceGrids) window(dst, src []float64, x, y float64) {
	h, w := g.grid.Height, g.grid.Width
	xi, yi := g.anchor(x, y)
	top, left := h-yi, w-xi
	for row := 0; row < h; row++ {
		start := (top+row)*2*w + left
		copy(dst[row*w:(row+1)*w], src[start:start+w])
	}
}

// BuildDisk creates binary disk heatmaps of radius diskRadius for (B, L, 2)
// points, together with the validity mask.
func (g *ReferenceGrids) BuildDisk(points *tensor.Dense) (heatmaps, mask *tensor.Dense, err error) {
	if err := tensor.CheckShape(points, -1, -1, 2); err != nil {
		return nil, nil, fmt.Errorf("points: %w", err)
	}
	b, l := points.Dim(0), points.Dim(1)
	heatmaps, err = tensor.New(b, l, g.grid.Height, g.grid.Width)
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			g.window(heatmaps.Plane(i, j), g.disk, points.At(i, j, 0), points.At(i, j, 1))
		}
	}
	return heatmaps, Mask(points), nil
}

// BuildSupport creates binary masks of radius maskRadius for (B, L, 2) points.
func (g *ReferenceGrids) BuildSupport(points *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape(points, -1, -1, 2); err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	b, l := points.Dim(0), points.Dim(1)
	support, err := tensor.New(b, l, g.grid.Height, g.grid.Width)
	if err != nil {
		return nil, err
	}
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			g.window(support.Plane(i, j), g.mask, points.At(i, j, 0), points.At(i, j, 1))
		}
	}
	return support, nil
}

// BuildOffsets creates (B, L, 2, H, W) offset fields from the reference ramps.
// Up to rounding of the landmark to the pixel grid, the values match Offsets
// with radius maskRadius.
func (g *ReferenceGrids) BuildOffsets(points *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape(points, -1, -1, 2); err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	b, l := points.Dim(0), points.Dim(1)
	h, w := g.grid.Height, g.grid.Width
	offsets, err := tensor.New(b, l, 2, h, w)
	if err != nil {
		return nil, err
	}
	data := offsets.Data()
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			x, y := points.At(i, j, 0), points.At(i, j, 1)
			g.window(data[offsets.Offset(i, j, 0, 0, 0):][:h*w], g.offsetX, x, y)
			g.window(data[offsets.Offset(i, j, 1, 0, 0):][:h*w], g.offsetY, x, y)
		}
	}
	return offsets, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
