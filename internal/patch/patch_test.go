package patch

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

func TestComputeBox(t *testing.T) {
	image := tensor.Size{Height: 256, Width: 256}
	patch := tensor.Size{Height: 64, Width: 64}

	tests := []struct {
		name string
		x, y float64
		want Box
	}{
		{
			name: "near top left",
			x:    10, y: 10,
			want: Box{ImageX1: 0, ImageX2: 42, ImageY1: 0, ImageY2: 42, PatchX1: 22, PatchX2: 64, PatchY1: 22, PatchY2: 64},
		},
		{
			name: "interior",
			x:    100, y: 120,
			want: Box{ImageX1: 68, ImageX2: 132, ImageY1: 88, ImageY2: 152, PatchX1: 0, PatchX2: 64, PatchY1: 0, PatchY2: 64},
		},
		{
			name: "corner",
			x:    0, y: 0,
			want: Box{ImageX1: 0, ImageX2: 32, ImageY1: 0, ImageY2: 32, PatchX1: 32, PatchX2: 64, PatchY1: 32, PatchY2: 64},
		},
		{
			name: "rounded",
			x:    99.6, y: 120.4,
			want: Box{ImageX1: 68, ImageX2: 132, ImageY1: 88, ImageY2: 152, PatchX1: 0, PatchX2: 64, PatchY1: 0, PatchY2: 64},
		},
		{
			name: "beyond bottom right is clamped",
			x:    400, y: 300,
			want: Box{ImageX1: 223, ImageX2: 256, ImageY1: 223, ImageY2: 256, PatchX1: 0, PatchX2: 33, PatchY1: 0, PatchY2: 33},
		},
		{
			name: "negative is clamped",
			x:    -5, y: -50,
			want: Box{ImageX1: 0, ImageX2: 32, ImageY1: 0, ImageY2: 32, PatchX1: 32, PatchX2: 64, PatchY1: 32, PatchY2: 64},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBox(tt.x, tt.y, patch, image)
			if got != tt.want {
				t.Errorf("ComputeBox(%v, %v) = %+v, want %+v", tt.x, tt.y, got, tt.want)
			}
			if got.Width() != got.PatchX2-got.PatchX1 || got.Height() != got.PatchY2-got.PatchY1 {
				t.Errorf("image and patch windows differ in extent: %+v", got)
			}
		})
	}
}

func TestComputeBox_NaNCentre(t *testing.T) {
	b := ComputeBox(math.NaN(), math.NaN(), tensor.Size{Height: 4, Width: 4}, tensor.Size{Height: 10, Width: 10})
	require.Equal(t, Box{ImageX2: 2, ImageY2: 2, PatchX1: 2, PatchX2: 4, PatchY1: 2, PatchY2: 4}, b)
}

func TestComputeBox_PatchLargerThanImage(t *testing.T) {
	b := ComputeBox(1, 1, tensor.Size{Height: 10, Width: 10}, tensor.Size{Height: 3, Width: 3})
	require.Equal(t, 0, b.ImageX1)
	require.Equal(t, 3, b.ImageX2)
	require.Equal(t, 4, b.PatchX1)
	require.Equal(t, 7, b.PatchX2)
}

func randomPlane(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func TestExtract_CornerZeroFill(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	image := tensor.Size{Height: 256, Width: 256}
	plane := randomPlane(rng, image.Height*image.Width)

	e, err := NewExtractor(tensor.Size{Height: 64, Width: 64})
	require.NoError(t, err)
	p := e.Extract(plane, image, 0, 0)
	require.Len(t, p, 64*64)

	for row := 0; row < 64; row++ {
		for col := 0; col < 64; col++ {
			got := p[row*64+col]
			if row < 32 || col < 32 {
				require.Equal(t, 0.0, got, "out of bounds pixel (%d,%d)", row, col)
				continue
			}
			want := plane[(row-32)*image.Width+(col-32)]
			require.Equal(t, want, got, "in bounds pixel (%d,%d)", row, col)
		}
	}
}

func TestExtract_NearCornerScenario(t *testing.T) {
	image := tensor.Size{Height: 256, Width: 256}
	plane := make([]float64, image.Height*image.Width)
	for i := range plane {
		plane[i] = float64(i + 1)
	}

	e, err := NewExtractor(tensor.Size{Height: 64, Width: 64})
	require.NoError(t, err)
	p := e.Extract(plane, image, 10, 10)

	require.Equal(t, 0.0, p[21*64+21])
	require.Equal(t, 0.0, p[21*64+40])
	require.Equal(t, plane[0], p[22*64+22])
	require.Equal(t, plane[41*image.Width+41], p[63*64+63])
}

func TestExtractBatch(t *testing.T) {
	images := tensor.Must(tensor.New(2, 1, 10, 12))
	for i := range images.Data() {
		images.Data()[i] = float64(i)
	}
	centres := tensor.Must(tensor.FromSlice([]float64{
		5, 5, 0, 0, 11, 9,
		3, 4, -1, -1, 6, 6,
	}, 2, 3, 2))

	e, err := NewExtractor(tensor.Size{Height: 4, Width: 6})
	require.NoError(t, err)
	patches, err := e.ExtractBatch(images, centres)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 4, 6}, patches.Shape())

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			want := e.Extract(images.Plane(i, 0), tensor.Size{Height: 10, Width: 12}, centres.At(i, j, 0), centres.At(i, j, 1))
			require.Equal(t, want, patches.Plane(i, j), "patch (%d,%d)", i, j)
		}
	}

	_, err = e.ExtractBatch(tensor.Must(tensor.New(2, 3, 10, 12)), centres)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = e.ExtractBatch(images, tensor.Must(tensor.New(3, 3, 2)))
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestExtractThenPaste_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const h, w = 50, 60
	size := tensor.Size{Height: 16, Width: 16}
	global := tensor.Must(tensor.FromSlice(randomPlane(rng, h*w), 1, 1, h, w))
	centres := tensor.Must(tensor.FromSlice([]float64{30, 25}, 1, 1, 2))

	e, err := NewExtractor(size)
	require.NoError(t, err)
	local, err := e.ExtractBatch(global, centres)
	require.NoError(t, err)

	p, err := NewPaster(size)
	require.NoError(t, err)
	for name, paste := range map[string]func(_, _, _ *tensor.Dense) (*tensor.Dense, error){
		"each":  p.PasteEach,
		"batch": p.PasteBatch,
	} {
		t.Run(name, func(t *testing.T) {
			out, err := paste(global, local, centres)
			require.NoError(t, err)
			require.Equal(t, global.Data(), out.Data())
		})
	}
}

func TestPaste_WritesOnlyWindow(t *testing.T) {
	global := tensor.Must(tensor.New(1, 1, 8, 8))
	for i := range global.Data() {
		global.Data()[i] = -1
	}
	local := tensor.Must(tensor.New(1, 1, 4, 4))
	for i := range local.Data() {
		local.Data()[i] = 5
	}
	centres := tensor.Must(tensor.FromSlice([]float64{0, 7}, 1, 1, 2))

	p, err := NewPaster(tensor.Size{Height: 4, Width: 4})
	require.NoError(t, err)
	out, err := p.PasteEach(global, local, centres)
	require.NoError(t, err)

	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			want := -1.0
			if row >= 5 && col < 2 {
				want = 5
			}
			require.Equal(t, want, out.At(0, 0, row, col), "pixel (%d,%d)", row, col)
		}
	}
	// input is not mutated
	require.Equal(t, -1.0, global.At(0, 0, 7, 0))
}

func TestPaste_ResizesLocalField(t *testing.T) {
	global := tensor.Must(tensor.New(1, 1, 10, 10))
	local := tensor.Must(tensor.FromSlice([]float64{1, 1, 1, 1}, 1, 1, 2, 2))
	centres := tensor.Must(tensor.FromSlice([]float64{5, 5}, 1, 1, 2))

	p, err := NewPaster(tensor.Size{Height: 6, Width: 4})
	require.NoError(t, err)
	out, err := p.PasteBatch(global, local, centres)
	require.NoError(t, err)

	var sum float64
	for _, v := range out.Data() {
		sum += v
	}
	require.InDelta(t, 24.0, sum, 1e-12)
	require.Equal(t, 1.0, out.At(0, 0, 2, 3))
	require.Equal(t, 0.0, out.At(0, 0, 8, 5))
}

func TestPasteBatch_MatchesPasteEach(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const b, l, h, w = 3, 5, 37, 41

	for _, size := range []tensor.Size{
		{Height: 16, Width: 20},
		{Height: 9, Width: 13},
		{Height: 50, Width: 50},
	} {
		t.Run(size.String(), func(t *testing.T) {
			global := tensor.Must(tensor.FromSlice(randomPlane(rng, b*l*h*w), b, l, h, w))
			local := tensor.Must(tensor.FromSlice(randomPlane(rng, b*l*12*12), b, l, 12, 12))

			xy := make([]float64, b*l*2)
			for k := 0; k < b*l; k++ {
				xy[2*k] = rng.Float64() * w
				xy[2*k+1] = rng.Float64() * h
			}
			// pin a few centres to and past the edges
			edges := [][2]float64{{0, 0}, {w - 1, h - 1}, {-3, 20}, {w + 4, -7}, {0.49, h - 0.5}, {w / 2, h}}
			for k, e := range edges {
				xy[2*k], xy[2*k+1] = e[0], e[1]
			}
			centres := tensor.Must(tensor.FromSlice(xy, b, l, 2))

			p, err := NewPaster(size)
			require.NoError(t, err)
			each, err := p.PasteEach(global, local, centres)
			require.NoError(t, err)
			batch, err := p.PasteBatch(global, local, centres)
			require.NoError(t, err)

			require.Equal(t, each.Shape(), batch.Shape())
			for i, v := range each.Data() {
				if math.Float64bits(v) != math.Float64bits(batch.Data()[i]) {
					t.Fatalf("element %d: each %v, batch %v", i, v, batch.Data()[i])
				}
			}
		})
	}
}

func TestPaste_ShapeErrors(t *testing.T) {
	p, err := NewPaster(tensor.Size{Height: 4, Width: 4})
	require.NoError(t, err)
	global := tensor.Must(tensor.New(2, 3, 8, 8))

	tests := []struct {
		name    string
		local   *tensor.Dense
		centres *tensor.Dense
	}{
		{"local batch", tensor.Must(tensor.New(1, 3, 4, 4)), tensor.Must(tensor.New(2, 3, 2))},
		{"local rank", tensor.Must(tensor.New(2, 3, 4)), tensor.Must(tensor.New(2, 3, 2))},
		{"centre landmarks", tensor.Must(tensor.New(2, 3, 4, 4)), tensor.Must(tensor.New(2, 2, 2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.PasteEach(global, tt.local, tt.centres)
			require.ErrorIs(t, err, tensor.ErrShapeMismatch)
			_, err = p.PasteBatch(global, tt.local, tt.centres)
			require.ErrorIs(t, err, tensor.ErrShapeMismatch)
		})
	}
}

func TestNewExtractorAndPaster_InvalidGeometry(t *testing.T) {
	for _, size := range []tensor.Size{
		{Height: 0, Width: 4},
		{Height: 4, Width: -1},
		{},
	} {
		t.Run(size.String(), func(t *testing.T) {
			_, err := NewExtractor(size)
			require.ErrorIs(t, err, ErrInvalidGeometry)
			_, err = NewPaster(size)
			require.ErrorIs(t, err, ErrInvalidGeometry)
		})
	}
}

func TestPasteShape(t *testing.T) {
	got := PasteShape(tensor.Size{Height: 800, Width: 640}, tensor.Size{Height: 2400, Width: 1935})
	// 800/2400*800 = 266.67, 640/1935*640 = 211.68
	require.Equal(t, tensor.Size{Height: 267, Width: 212}, got)
}

func TestScaleSize(t *testing.T) {
	got := ScaleSize(tensor.Size{Height: 96, Width: 96}, tensor.Size{Height: 800, Width: 640}, tensor.Size{Height: 2400, Width: 1935})
	// 96/3 = 32, 96*640/1935 = 31.75
	require.Equal(t, tensor.Size{Height: 32, Width: 32}, got)

	tiny := ScaleSize(tensor.Size{Height: 1, Width: 1}, tensor.Size{Height: 10, Width: 10}, tensor.Size{Height: 1000, Width: 1000})
	require.Equal(t, tensor.Size{Height: 1, Width: 1}, tiny)
}
