package patch

import (
	"math"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// Box describes a window placement. Image coordinates index the larger field,
// patch coordinates the patch canvas. All ranges are half-open.
type Box struct {
	ImageX1 int `json:"image_x1"`
	ImageX2 int `json:"image_x2"`
	ImageY1 int `json:"image_y1"`
	ImageY2 int `json:"image_y2"`

	PatchX1 int `json:"patch_x1"`
	PatchX2 int `json:"patch_x2"`
	PatchY1 int `json:"patch_y1"`
	PatchY2 int `json:"patch_y2"`
}

// Empty reports whether the window covers no pixels.
func (b Box) Empty() bool {
	return b.ImageX2 <= b.ImageX1 || b.ImageY2 <= b.ImageY1
}

// Width returns the window width in pixels.
func (b Box) Width() int { return b.ImageX2 - b.ImageX1 }

// Height returns the window height in pixels.
func (b Box) Height() int { return b.ImageY2 - b.ImageY1 }

// ComputeBox places a patch of size patch centred on (x, y) inside an image of
// size image and clips it to the image bounds.
func ComputeBox(x, y float64, patch, image tensor.Size) Box {
	cx := pixelIndex(x, image.Width)
	cy := pixelIndex(y, image.Height)

	ox := patch.Width / 2
	oy := patch.Height / 2

	b := Box{
		ImageX1: max(0, cx-ox),
		ImageX2: min(image.Width, cx+ox),
		ImageY1: max(0, cy-oy),
		ImageY2: min(image.Height, cy+oy),
	}
	b.PatchX1 = max(0, ox-cx)
	b.PatchX2 = b.PatchX1 + b.ImageX2 - b.ImageX1
	b.PatchY1 = max(0, oy-cy)
	b.PatchY2 = b.PatchY1 + b.ImageY2 - b.ImageY1
	return b
}

// ComputeBoxes places one box per landmark of a (B, L, 2) centre tensor, in
// row-major (image, landmark) order.
func ComputeBoxes(centres *tensor.Dense, patch, image tensor.Size) []Box {
	b, l := centres.Dim(0), centres.Dim(1)
	boxes := make([]Box, 0, b*l)
	data := centres.Data()
	for k := 0; k < b*l; k++ {
		boxes = append(boxes, ComputeBox(data[2*k], data[2*k+1], patch, image))
	}
	return boxes
}

// pixelIndex rounds a coordinate to the nearest pixel in [0, size-1].
// NaN maps to 0.
func pixelIndex(v float64, size int) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > float64(size-1) {
		return size - 1
	}
	return int(math.Round(v))
}
