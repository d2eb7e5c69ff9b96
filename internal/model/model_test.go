package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ironsheep/landmark-mcp/internal/heatmap"
	"github.com/ironsheep/landmark-mcp/internal/localize"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

var testGrid = tensor.Size{Height: 16, Width: 16}

func testOptions(global Backbone) Options {
	o := DefaultOptions()
	o.Landmarks = 2
	o.Grid = testGrid
	o.Original = tensor.Size{Height: 32, Width: 32}
	o.Patch = tensor.Size{Height: 8, Width: 8}
	o.Radius = 4
	o.Global = global
	return o
}

func pts(b, l int, xy ...float64) *tensor.Dense {
	return tensor.Must(tensor.FromSlice(xy, b, l, 2))
}

func images(b int) *tensor.Dense {
	return tensor.Must(tensor.New(b, 1, testGrid.Height, testGrid.Width))
}

// oracle returns heatmaps peaked at fixed points whatever the input.
func oracle(points *tensor.Dense) Backbone {
	return BackboneFunc(func(*tensor.Dense) (*tensor.Dense, error) {
		hm, _, err := heatmap.Build(points, testGrid, 1)
		return hm, err
	})
}

// stack concatenates rank-4 tensors along the channel axis.
func stack(parts ...*tensor.Dense) *tensor.Dense {
	b, h, w := parts[0].Dim(0), parts[0].Dim(2), parts[0].Dim(3)
	var c int
	for _, p := range parts {
		c += p.Dim(1)
	}
	out := tensor.Must(tensor.New(b, c, h, w))
	for i := 0; i < b; i++ {
		ch := 0
		for _, p := range parts {
			for j := 0; j < p.Dim(1); j++ {
				copy(out.Plane(i, ch), p.Plane(i, j))
				ch++
			}
		}
	}
	return out
}

func TestNew_UnknownVariant(t *testing.T) {
	_, err := New("resnet", testOptions(oracle(pts(1, 2, 0, 0, 0, 0))))
	require.ErrorIs(t, err, ErrUnknownVariant)

	_, err = ParseVariant("UNet")
	require.ErrorIs(t, err, ErrUnknownVariant)

	v, err := ParseVariant("cascade")
	require.NoError(t, err)
	require.Equal(t, Cascade, v)

	require.Equal(t, []Variant{Cascade, Heatmap, Hourglass, Offset}, Variants())
}

func TestNew_InvalidOptions(t *testing.T) {
	good := oracle(pts(1, 2, 0, 0, 0, 0))
	tests := []struct {
		name    string
		variant Variant
		mutate  func(*Options)
	}{
		{"no backbone", Heatmap, func(o *Options) { o.Global = nil }},
		{"no landmarks", Heatmap, func(o *Options) { o.Landmarks = 0 }},
		{"zero sigma", Hourglass, func(o *Options) { o.Sigma = 0 }},
		{"empty grid", Offset, func(o *Options) { o.Grid = tensor.Size{Width: 4} }},
		{"bad paste size", Cascade, func(o *Options) { o.PasteSize = tensor.Size{Height: 3} }},
		{"bad metric spacing", Heatmap, func(o *Options) { o.Metric.Spacing = 0 }},
		{"cascade without local", Cascade, func(o *Options) { o.Local = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOptions(good)
			o.Local = good
			tt.mutate(&o)
			_, err := New(tt.variant, o)
			require.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestHeatmapModel_PredictAndEvaluate(t *testing.T) {
	truth := pts(2, 2, 3.2, 4.7, 10, 12, 0, 0, 15, 15)
	m, err := New(Heatmap, testOptions(oracle(truth)))
	require.NoError(t, err)
	require.Equal(t, Heatmap, m.Variant())

	pred, err := m.Predict(Batch{Images: images(2)})
	require.NoError(t, err)
	require.Equal(t, [][]localize.Detection{{{X: 3, Y: 5}, {X: 10, Y: 12}}, {{X: 0, Y: 0}, {X: 15, Y: 15}}}, pred.Global)
	require.Nil(t, pred.Refined)
	require.Equal(t, []float64{3, 5, 10, 12, 0, 0, 15, 15}, pred.Points.Data())

	// grid pixel (3, 4) off is (6, 8) original pixels, 10 px at 0.1 mm
	report, err := m.Evaluate(&Prediction{Points: pts(1, 2, 3, 4, 5, 5)}, pts(1, 2, 0, 0, -1, 5))
	require.NoError(t, err)
	require.Equal(t, 1, report.Valid)
	require.InDelta(t, 1.0, report.MeanMM, 1e-12)
}

func TestHeatmapModel_ComputeLoss(t *testing.T) {
	truth := pts(1, 2, 4, 4, 9, 11)
	m, err := New(Heatmap, testOptions(oracle(truth)))
	require.NoError(t, err)

	total, pred, err := m.ComputeLoss(Batch{Images: images(1), Points: truth})
	require.NoError(t, err)
	require.NotNil(t, pred)
	require.Greater(t, total, 0.0)

	missing := pts(1, 2, -1, -1, 3, -4)
	total, _, err = m.ComputeLoss(Batch{Images: images(1), Points: missing})
	require.NoError(t, err)
	require.Equal(t, 0.0, total)

	_, _, err = m.ComputeLoss(Batch{Images: images(1)})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, _, err = m.ComputeLoss(Batch{Images: images(1), Points: pts(1, 1, 0, 0)})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestBackboneContract(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		bb   BackboneFunc
		want error
	}{
		{"error", func(*tensor.Dense) (*tensor.Dense, error) { return nil, boom }, boom},
		{"nil output", func(*tensor.Dense) (*tensor.Dense, error) { return nil, nil }, tensor.ErrShapeMismatch},
		{"wrong batch", func(*tensor.Dense) (*tensor.Dense, error) { return tensor.New(3, 2, 16, 16) }, tensor.ErrShapeMismatch},
		{"too few channels", func(*tensor.Dense) (*tensor.Dense, error) { return tensor.New(1, 1, 16, 16) }, tensor.ErrShapeMismatch},
		{"wrong rank", func(*tensor.Dense) (*tensor.Dense, error) { return tensor.New(1, 2, 16) }, tensor.ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(Heatmap, testOptions(tt.bb))
			require.NoError(t, err)
			_, err = m.Predict(Batch{Images: images(1)})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestForward_ResamplesToGrid(t *testing.T) {
	small := pts(1, 2, 2, 2, 5, 6)
	bb := BackboneFunc(func(*tensor.Dense) (*tensor.Dense, error) {
		hm, _, err := heatmap.Build(small, tensor.Size{Height: 8, Width: 8}, 1)
		return hm, err
	})
	m, err := New(Heatmap, testOptions(bb))
	require.NoError(t, err)
	pred, err := m.Predict(Batch{Images: images(1)})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 16, 16}, pred.Heatmaps.Shape())
}

func TestHourglassModel_DecodesLastStack(t *testing.T) {
	wrong := pts(1, 2, 1, 1, 2, 2)
	right := pts(1, 2, 7, 8, 12, 3)
	bb := BackboneFunc(func(*tensor.Dense) (*tensor.Dense, error) {
		a, _, err := heatmap.Build(wrong, testGrid, 1)
		if err != nil {
			return nil, err
		}
		b, _, err := heatmap.Build(right, testGrid, 1)
		if err != nil {
			return nil, err
		}
		return stack(a, b), nil
	})

	opts := testOptions(bb)
	opts.Stacks = 2
	m, err := New(Hourglass, opts)
	require.NoError(t, err)

	pred, err := m.Predict(Batch{Images: images(1)})
	require.NoError(t, err)
	require.Equal(t, right.Data(), pred.Points.Data())

	both, _, err := m.ComputeLoss(Batch{Images: images(1), Points: right})
	require.NoError(t, err)

	opts.Global = oracle(right)
	single, err := New(Heatmap, opts)
	require.NoError(t, err)
	last, _, err := single.ComputeLoss(Batch{Images: images(1), Points: right})
	require.NoError(t, err)

	opts.Global = oracle(wrong)
	single, err = New(Heatmap, opts)
	require.NoError(t, err)
	first, _, err := single.ComputeLoss(Batch{Images: images(1), Points: right})
	require.NoError(t, err)

	require.InDelta(t, first+last, both, 1e-12)
}

func TestOffsetModel_DecodesSubPixelPoints(t *testing.T) {
	truth := pts(1, 2, 4.3, 6.8, 11.6, 2.2)
	bb := BackboneFunc(func(*tensor.Dense) (*tensor.Dense, error) {
		hm, _, err := heatmap.Build(truth, testGrid, 1)
		if err != nil {
			return nil, err
		}
		off, err := heatmap.Offsets(truth, testGrid, 4)
		if err != nil {
			return nil, err
		}
		// (B, L, 2, H, W) to an x block then a y block of L channels each
		xy := tensor.Must(tensor.New(1, 4, testGrid.Height, testGrid.Width))
		for j := 0; j < 2; j++ {
			n := testGrid.Height * testGrid.Width
			copy(xy.Plane(0, j), off.Data()[off.Offset(0, j, 0, 0, 0):][:n])
			copy(xy.Plane(0, 2+j), off.Data()[off.Offset(0, j, 1, 0, 0):][:n])
		}
		return stack(hm, xy), nil
	})

	m, err := New(Offset, testOptions(bb))
	require.NoError(t, err)
	pred, err := m.Predict(Batch{Images: images(1)})
	require.NoError(t, err)
	require.InDeltaSlice(t, truth.Data(), pred.Points.Data(), 1e-12)
	require.Equal(t, []int{1, 2, 2, 16, 16}, pred.Offsets.Shape())

	total, _, err := m.ComputeLoss(Batch{Images: images(1), Points: truth})
	require.NoError(t, err)
	require.False(t, math.IsNaN(total))

	total, _, err = m.ComputeLoss(Batch{Images: images(1), Points: pts(1, 2, -1, 0, 0, -1)})
	require.NoError(t, err)
	require.Equal(t, 0.0, total)
}

func TestCascadeModel_RefinesGlobalEstimate(t *testing.T) {
	truth := pts(1, 2, 5, 6, 10, 9)
	coarse := pts(1, 2, 4, 5, 9, 8)

	var seen []int
	var firstPatch []float64
	local := BackboneFunc(func(patches *tensor.Dense) (*tensor.Dense, error) {
		seen = patches.Shape()
		firstPatch = append([]float64(nil), patches.Plane(0, 0)...)
		out := tensor.Must(tensor.New(patches.Dim(0), 1, 8, 8))
		for k := 0; k < patches.Dim(0); k++ {
			for _, rc := range [][2]int{{6, 6}, {6, 7}, {7, 6}, {7, 7}} {
				out.Set(5, k, 0, rc[0], rc[1])
			}
		}
		return out, nil
	})

	opts := testOptions(oracle(coarse))
	opts.Local = local
	m, err := New(Cascade, opts)
	require.NoError(t, err)

	originals := tensor.Must(tensor.New(1, 1, 32, 32))
	for i := range originals.Data() {
		originals.Data()[i] = float64(i)
	}

	pred, err := m.Predict(Batch{Images: images(1), Originals: originals})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1, 8, 8}, seen)
	// the first centre (4, 5) is (8, 10) in the original frame: window from (4, 6)
	require.Equal(t, originals.At(0, 0, 6, 4), firstPatch[0])

	require.Equal(t, [][]localize.Detection{{{X: 4, Y: 5}, {X: 9, Y: 8}}}, pred.Global)
	require.Equal(t, [][]localize.Detection{{{X: 5, Y: 6}, {X: 10, Y: 9}}}, pred.Refined)
	require.Equal(t, truth.Data(), pred.Points.Data())

	total, _, err := m.ComputeLoss(Batch{Images: images(1), Points: truth, Originals: originals})
	require.NoError(t, err)
	require.Greater(t, total, 0.0)

	total, _, err = m.ComputeLoss(Batch{Images: images(1), Points: pts(1, 2, -1, -1, -1, -1)})
	require.NoError(t, err, "originals are upsampled from images when absent")
	require.Equal(t, 0.0, total)

	_, err = m.Predict(Batch{Images: images(1), Originals: tensor.Must(tensor.New(1, 1, 16, 16))})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestCascadeModel_PatchFramePoints(t *testing.T) {
	opts := testOptions(oracle(pts(1, 1, 0, 0)))
	opts.Landmarks = 1
	opts.Local = opts.Global
	m, err := New(Cascade, opts)
	require.NoError(t, err)

	c := m.(*cascadeModel)
	// grid (5, 6) is original (10, 12); a centre at (8, 10) puts the window origin
	// at (4, 6)
	got, err := c.patchFramePoints(pts(1, 1, 5, 6), pts(1, 1, 8, 10))
	require.NoError(t, err)
	require.Equal(t, []float64{6, 6}, got.Data())

	got, err = c.patchFramePoints(pts(1, 1, -1, 6), pts(1, 1, 8, 10))
	require.NoError(t, err)
	require.Equal(t, []float64{-1, -1}, got.Data())
}
