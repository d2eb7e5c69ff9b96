package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ResizeBilinear resamples an h x w row-major plane to outH x outW.
//
// Sampling uses half-pixel centres: destination pixel d maps to source coordinate
// (d + 0.5) * in/out - 0.5, clamped at zero on the low side and to the last pixel on
// the high side. Resizing to the same size returns an exact copy.
func ResizeBilinear(src []float64, h, w, outH, outW int) []float64 {
	dst := make([]float64, outH*outW)
	if h == outH && w == outW {
		copy(dst, src)
		return dst
	}

	ys0, ys1, yl := axisWeights(h, outH)
	xs0, xs1, xl := axisWeights(w, outW)

	for oy := 0; oy < outH; oy++ {
		r0 := src[ys0[oy]*w : ys0[oy]*w+w]
		r1 := src[ys1[oy]*w : ys1[oy]*w+w]
		ly := yl[oy]
		row := dst[oy*outW : oy*outW+outW]
		for ox := 0; ox < outW; ox++ {
			lx := xl[ox]
			top := r0[xs0[ox]]*(1-lx) + r0[xs1[ox]]*lx
			bottom := r1[xs0[ox]]*(1-lx) + r1[xs1[ox]]*lx
			row[ox] = top*(1-ly) + bottom*ly
		}
	}
	return dst
}

// axisWeights precomputes the source indices and interpolation weights for one axis.
func axisWeights(in, out int) (lo, hi []int, frac []float64) {
	lo = make([]int, out)
	hi = make([]int, out)
	frac = make([]float64, out)
	scale := float64(in) / float64(out)
	for d := 0; d < out; d++ {
		s := (float64(d)+0.5)*scale - 0.5
		if s < 0 {
			s = 0
		}
		i0 := int(math.Floor(s))
		if i0 > in-1 {
			i0 = in - 1
		}
		i1 := i0 + 1
		if i1 > in-1 {
			i1 = in - 1
		}
		lo[d] = i0
		hi[d] = i1
		frac[d] = s - float64(i0)
	}
	return lo, hi, frac
}

// ResizePlanes resamples every plane of a rank-4 tensor to outH x outW.
func ResizePlanes(t *Dense, outH, outW int) (*Dense, error) {
	if t.Dims() != 4 {
		return nil, fmt.Errorf("%w: ResizePlanes needs rank 4, got %v", ErrShapeMismatch, t.shape)
	}
	b, c, h, w := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	out, err := New(b, c, outH, outW)
	if err != nil {
		return nil, err
	}
	for i := 0; i < b; i++ {
		for j := 0; j < c; j++ {
			copy(out.Plane(i, j), ResizeBilinear(t.Plane(i, j), h, w, outH, outW))
		}
	}
	return out, nil
}

// Normalize shifts t to zero mean and scales it to unit (sample) standard deviation
// in place. A constant tensor is only centred.
func Normalize(t *Dense) {
	mean, std := stat.MeanStdDev(t.data, nil)
	if math.IsNaN(std) || std == 0 {
		std = 1
	}
	for i, v := range t.data {
		t.data[i] = (v - mean) / std
	}
}
