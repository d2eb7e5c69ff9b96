package patch

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// ErrInvalidGeometry is returned when a patch or paste size is unusable.
var ErrInvalidGeometry = errors.New("invalid patch geometry")

var validate = validator.New()

func checkSize(what string, s tensor.Size) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidGeometry, what, s, err)
	}
	return nil
}

// Extractor cuts fixed-size patches out of single-channel images.
type Extractor struct {
	size tensor.Size
}

// NewExtractor returns an Extractor producing patches of the given size.
func NewExtractor(size tensor.Size) (*Extractor, error) {
	if err := checkSize("patch size", size); err != nil {
		return nil, err
	}
	return &Extractor{size: size}, nil
}

// Size returns the patch size.
func (e *Extractor) Size() tensor.Size { return e.size }

// Box returns the window used to extract the patch centred on (x, y).
func (e *Extractor) Box(x, y float64, image tensor.Size) Box {
	return ComputeBox(x, y, e.size, image)
}

// Extract returns the patch centred on (x, y) of a row-major plane of the given
// size. Pixels that fall outside the image are zero.
func (e *Extractor) Extract(plane []float64, image tensor.Size, x, y float64) []float64 {
	out := make([]float64, e.size.Height*e.size.Width)
	e.extractInto(out, plane, image, e.Box(x, y, image))
	return out
}

func (e *Extractor) extractInto(dst, src []float64, image tensor.Size, b Box) {
	if b.Empty() {
		return
	}
	from := mat.NewDense(image.Height, image.Width, src)
	to := mat.NewDense(e.size.Height, e.size.Width, dst)
	to.Slice(b.PatchY1, b.PatchY2, b.PatchX1, b.PatchX2).(*mat.Dense).
		Copy(from.Slice(b.ImageY1, b.ImageY2, b.ImageX1, b.ImageX2))
}

// ExtractBatch cuts one patch per landmark.
//
// images has shape (B, 1, H, W) and centres (B, L, 2) in the pixel frame of the
// images. The result has shape (B, L, ph, pw).
func (e *Extractor) ExtractBatch(images, centres *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape(images, -1, 1, -1, -1); err != nil {
		return nil, fmt.Errorf("images: %w", err)
	}
	b := images.Dim(0)
	if err := tensor.CheckShape(centres, b, -1, 2); err != nil {
		return nil, fmt.Errorf("centres: %w", err)
	}
	l := centres.Dim(1)
	image := tensor.Size{Height: images.Dim(2), Width: images.Dim(3)}

	patches, err := tensor.New(b, l, e.size.Height, e.size.Width)
	if err != nil {
		return nil, err
	}
	for i := 0; i < b; i++ {
		src := images.Plane(i, 0)
		for j := 0; j < l; j++ {
			box := e.Box(centres.At(i, j, 0), centres.At(i, j, 1), image)
			e.extractInto(patches.Plane(i, j), src, image, box)
		}
	}
	return patches, nil
}
