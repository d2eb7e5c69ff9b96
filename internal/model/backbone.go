package model

import (
	"fmt"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// Backbone maps a (B, C, H, W) batch to a (B, OutC, H', W') field.
type Backbone interface {
	Forward(images *tensor.Dense) (*tensor.Dense, error)
}

// BackboneFunc adapts a function to the Backbone interface.
type BackboneFunc func(images *tensor.Dense) (*tensor.Dense, error)

// Forward calls f.
func (f BackboneFunc) Forward(images *tensor.Dense) (*tensor.Dense, error) { return f(images) }

// forward runs a backbone and checks its output against the shape contract. The
// output must keep the batch size and carry at least minChannels channels; its
// planes are resampled to size when the backbone works at another resolution.
func forward(bb Backbone, images *tensor.Dense, minChannels int, size tensor.Size) (*tensor.Dense, error) {
	out, err := bb.Forward(images)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("backbone: %w: no output", tensor.ErrShapeMismatch)
	}
	if err := tensor.CheckShape(out, images.Dim(0), -1, -1, -1); err != nil {
		return nil, fmt.Errorf("backbone output: %w", err)
	}
	if out.Dim(1) < minChannels {
		return nil, fmt.Errorf("backbone output: %w: %d channels, need %d", tensor.ErrShapeMismatch, out.Dim(1), minChannels)
	}
	if out.Dim(2) != size.Height || out.Dim(3) != size.Width {
		return tensor.ResizePlanes(out, size.Height, size.Width)
	}
	return out, nil
}

// channels copies n consecutive channels starting at from into a new
// (B, n, H, W) tensor.
func channels(t *tensor.Dense, from, n int) *tensor.Dense {
	b, h, w := t.Dim(0), t.Dim(2), t.Dim(3)
	out := tensor.Must(tensor.New(b, n, h, w))
	for i := 0; i < b; i++ {
		for j := 0; j < n; j++ {
			copy(out.Plane(i, j), t.Plane(i, from+j))
		}
	}
	return out
}

// offsetField gathers the x block starting at channel l and the y block starting
// at channel 2l into a (B, L, 2, H, W) tensor.
func offsetField(t *tensor.Dense, l int) *tensor.Dense {
	b, h, w := t.Dim(0), t.Dim(2), t.Dim(3)
	out := tensor.Must(tensor.New(b, l, 2, h, w))
	data := out.Data()
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			copy(data[out.Offset(i, j, 0, 0, 0):][:h*w], t.Plane(i, l+j))
			copy(data[out.Offset(i, j, 1, 0, 0):][:h*w], t.Plane(i, 2*l+j))
		}
	}
	return out
}
