package patch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// PasteShape returns the size a local field is resampled to before pasting, for
// local fields cut from the original image at the size of the global field.
//
// Each axis is round(factor * global) with factor = global / original, where global
// is the resized field size and original the unresized image size. A local field
// that covered global pixels of the original image then covers the same fraction
// of the resized frame.
func PasteShape(global, original tensor.Size) tensor.Size {
	return ScaleSize(global, global, original)
}

// ScaleSize maps a window of size patch in the original frame to the global
// frame, rounding each axis to the nearest pixel and keeping at least one pixel.
func ScaleSize(patch, global, original tensor.Size) tensor.Size {
	fy := float64(global.Height) / float64(original.Height)
	fx := float64(global.Width) / float64(original.Width)
	return tensor.Size{
		Height: max(1, int(math.Round(fy*float64(patch.Height)))),
		Width:  max(1, int(math.Round(fx*float64(patch.Width)))),
	}
}

// Paster writes local fields into global fields around landmark estimates.
type Paster struct {
	size tensor.Size
}

// NewPaster returns a Paster that resamples local fields to size before pasting.
func NewPaster(size tensor.Size) (*Paster, error) {
	if err := checkSize("paste size", size); err != nil {
		return nil, err
	}
	return &Paster{size: size}, nil
}

// Size returns the paste size.
func (p *Paster) Size() tensor.Size { return p.size }

// prepare validates the inputs of a paste and resamples the local fields.
func (p *Paster) prepare(global, local, centres *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape(global, -1, -1, -1, -1); err != nil {
		return nil, fmt.Errorf("global: %w", err)
	}
	b, l := global.Dim(0), global.Dim(1)
	if err := tensor.CheckShape(local, b, l, -1, -1); err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	if err := tensor.CheckShape(centres, b, l, 2); err != nil {
		return nil, fmt.Errorf("centres: %w", err)
	}
	return tensor.ResizePlanes(local, p.size.Height, p.size.Width)
}

// PasteEach pastes the local field of every (image, landmark) pair, one pair at a
// time.
//
// global has shape (B, L, H, W), local (B, L, h, w) and centres (B, L, 2) in the
// pixel frame of global. The result is a new tensor; global is not modified.
func (p *Paster) PasteEach(global, local, centres *tensor.Dense) (*tensor.Dense, error) {
	resized, err := p.prepare(global, local, centres)
	if err != nil {
		return nil, err
	}
	out := global.Clone()
	image := tensor.Size{Height: global.Dim(2), Width: global.Dim(3)}

	for i := 0; i < global.Dim(0); i++ {
		for j := 0; j < global.Dim(1); j++ {
			b := ComputeBox(centres.At(i, j, 0), centres.At(i, j, 1), p.size, image)
			if b.Empty() {
				continue
			}
			dst := out.Mat(i, j).Slice(b.ImageY1, b.ImageY2, b.ImageX1, b.ImageX2).(*mat.Dense)
			dst.Copy(resized.Mat(i, j).Slice(b.PatchY1, b.PatchY2, b.PatchX1, b.PatchX2))
		}
	}
	return out, nil
}

// PasteBatch produces the same result as PasteEach without iterating per pair.
// Boxes for all pairs are computed first; the output is then filled in one pass
// over the flattened (B, L, H, W) index space, taking each pixel either from the
// matching resized local pixel or from global.
func (p *Paster) PasteBatch(global, local, centres *tensor.Dense) (*tensor.Dense, error) {
	resized, err := p.prepare(global, local, centres)
	if err != nil {
		return nil, err
	}
	h, w := global.Dim(2), global.Dim(3)
	ph, pw := p.size.Height, p.size.Width
	boxes := ComputeBoxes(centres, p.size, tensor.Size{Height: h, Width: w})

	n := len(boxes)
	x1, x2 := make([]int, n), make([]int, n)
	y1, y2 := make([]int, n), make([]int, n)
	shiftX, shiftY := make([]int, n), make([]int, n)
	for k, b := range boxes {
		x1[k], x2[k] = b.ImageX1, b.ImageX2
		y1[k], y2[k] = b.ImageY1, b.ImageY2
		shiftX[k] = b.PatchX1 - b.ImageX1
		shiftY[k] = b.PatchY1 - b.ImageY1
	}

	src := global.Data()
	patches := resized.Data()
	out := make([]float64, len(src))
	plane := h * w
	for idx := range out {
		k := idx / plane
		row := (idx / w) % h
		col := idx % w
		if row >= y1[k] && row < y2[k] && col >= x1[k] && col < x2[k] {
			out[idx] = patches[k*ph*pw+(row+shiftY[k])*pw+col+shiftX[k]]
		} else {
			out[idx] = src[idx]
		}
	}
	return tensor.FromSlice(out, global.Shape()...)
}
