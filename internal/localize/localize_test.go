package localize

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ironsheep/landmark-mcp/internal/heatmap"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

func TestLocate_NearestPixel(t *testing.T) {
	points := tensor.Must(tensor.FromSlice([]float64{50.4, 49.6}, 1, 1, 2))
	hm, _, err := heatmap.Build(points, tensor.Size{Height: 100, Width: 100}, 1)
	require.NoError(t, err)

	dets, err := Locate(hm)
	require.NoError(t, err)
	require.Equal(t, [][]Detection{{{X: 50, Y: 50}}}, dets)
}

func TestLocate_SinglePeakRecovery(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	grid := tensor.Size{Height: 48, Width: 64}
	const b, l = 4, 6

	xy := make([]float64, b*l*2)
	for k := 0; k < b*l; k++ {
		xy[2*k] = rng.Float64() * float64(grid.Width-1)
		xy[2*k+1] = rng.Float64() * float64(grid.Height-1)
	}
	points := tensor.Must(tensor.FromSlice(xy, b, l, 2))
	hm, _, err := heatmap.Build(points, grid, 2)
	require.NoError(t, err)

	dets, err := Locate(hm)
	require.NoError(t, err)
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			want := Detection{
				X: int(math.Round(points.At(i, j, 0))),
				Y: int(math.Round(points.At(i, j, 1))),
			}
			if dets[i][j] != want {
				t.Errorf("landmark (%d,%d) at (%v,%v): got %+v, want %+v",
					i, j, points.At(i, j, 0), points.At(i, j, 1), dets[i][j], want)
			}
		}
	}
}

func TestLocate_TiesPickFirstRowMajor(t *testing.T) {
	hm := tensor.Must(tensor.New(1, 2, 3, 4))
	hm.Set(7, 0, 0, 1, 3)
	hm.Set(7, 0, 0, 2, 0)
	// all-equal plane resolves to the origin
	dets, err := Locate(hm)
	require.NoError(t, err)
	require.Equal(t, Detection{X: 3, Y: 1}, dets[0][0])
	require.Equal(t, Detection{X: 0, Y: 0}, dets[0][1])
}

func TestLocate_WrongRank(t *testing.T) {
	_, err := Locate(tensor.Must(tensor.New(2, 3, 4)))
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestToTensor(t *testing.T) {
	p, err := ToTensor([][]Detection{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 2}, p.Shape())
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, p.Data())

	_, err = ToTensor(nil)
	require.ErrorIs(t, err, tensor.ErrInvalidShape)
	_, err = ToTensor([][]Detection{{{1, 2}}, {}})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestClampPoints(t *testing.T) {
	p := tensor.Must(tensor.FromSlice([]float64{-3, 5, 20, 12, 4.5, 2}, 1, 3, 2))
	got, err := ClampPoints(p, tensor.Size{Height: 10, Width: 15})
	require.NoError(t, err)
	require.Equal(t, []float64{0, 5, 14, 9, 4.5, 2}, got.Data())
	require.Equal(t, -3.0, p.At(0, 0, 0), "input is not modified")
}

func TestDecodeOffsets_RecoversSubPixelPoint(t *testing.T) {
	grid := tensor.Size{Height: 20, Width: 30}
	points := tensor.Must(tensor.FromSlice([]float64{12.3, 7.8}, 1, 1, 2))
	offsets, err := heatmap.Offsets(points, grid, 5)
	require.NoError(t, err)

	got, err := DecodeOffsets([][]Detection{{{X: 10, Y: 9}}}, offsets, 5)
	require.NoError(t, err)
	require.InDelta(t, 12.3, got.At(0, 0, 0), 1e-12)
	require.InDelta(t, 7.8, got.At(0, 0, 1), 1e-12)

	_, err = DecodeOffsets([][]Detection{{{X: 30, Y: 0}}}, offsets, 5)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}
