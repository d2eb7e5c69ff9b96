package imaging

import (
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/transform"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// ToTensor converts an image to a (1, 1, H, W) tensor of gray levels in [0, 1].
//
// Pixels are converted through the 16-bit gray model, so 16-bit radiographs keep
// their full precision.
func ToTensor(img image.Image) *tensor.Dense {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	t := tensor.Must(tensor.New(1, 1, h, w))
	plane := t.Plane(0, 0)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			plane[y*w+x] = float64(g.Y) / 0xffff
		}
	}
	return t
}

// ToGrid resamples an image to size with bilinear filtering and returns it as a
// normalized (1, 1, H, W) tensor with zero mean and unit variance.
func ToGrid(img image.Image, size tensor.Size) (*tensor.Dense, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("invalid grid size %s", size)
	}
	var resized image.Image = img
	if b := img.Bounds(); b.Dx() != size.Width || b.Dy() != size.Height {
		resized = transform.Resize(img, size.Width, size.Height, transform.Linear)
	}
	t := ToTensor(resized)
	tensor.Normalize(t)
	return t, nil
}

// ToOriginal returns the image at full resolution as a normalized
// (1, 1, H, W) tensor.
func ToOriginal(img image.Image) *tensor.Dense {
	t := ToTensor(img)
	tensor.Normalize(t)
	return t
}

// Stack concatenates (1, 1, H, W) tensors of equal size into a (B, 1, H, W) batch.
func Stack(images ...*tensor.Dense) (*tensor.Dense, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no images", tensor.ErrInvalidShape)
	}
	h, w := images[0].Dim(2), images[0].Dim(3)
	out, err := tensor.New(len(images), 1, h, w)
	if err != nil {
		return nil, err
	}
	for i, img := range images {
		if err := tensor.CheckShape(img, 1, 1, h, w); err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		copy(out.Plane(i, 0), img.Plane(0, 0))
	}
	return out, nil
}
