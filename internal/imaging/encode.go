package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// PatchResult contains an encoded patch image.
type PatchResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// PlaneImage renders a row-major float plane as an 8-bit gray image, stretching
// [min, max] to [0, 255]. A constant plane renders black.
func PlaneImage(plane []float64, size tensor.Size) (*image.Gray, error) {
	if !size.Valid() || len(plane) != size.Height*size.Width {
		return nil, fmt.Errorf("%w: %d values for %s plane", tensor.ErrShapeMismatch, len(plane), size)
	}
	lo, hi := floats.Min(plane), floats.Max(plane)
	span := hi - lo

	img := image.NewGray(image.Rect(0, 0, size.Width, size.Height))
	for i, v := range plane {
		if span > 0 {
			img.Pix[i] = uint8((v-lo)/span*255 + 0.5)
		}
	}
	return img, nil
}

// EncodePatch renders a plane with PlaneImage, optionally rescales it and returns
// it as a base64 PNG.
func EncodePatch(plane []float64, size tensor.Size, scale float64) (*PatchResult, error) {
	gray, err := PlaneImage(plane, size)
	if err != nil {
		return nil, err
	}

	var out image.Image = gray
	if scale != 1.0 && scale > 0 {
		newWidth := max(1, int(float64(size.Width)*scale))
		newHeight := max(1, int(float64(size.Height)*scale))
		out = imaging.Resize(gray, newWidth, newHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}

	return &PatchResult{
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}
