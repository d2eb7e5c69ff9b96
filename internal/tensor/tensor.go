package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidShape is returned for shapes with missing or non-positive dimensions.
	ErrInvalidShape = errors.New("invalid tensor shape")

	// ErrShapeMismatch is returned when two tensors that must agree do not.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
)

// Dense is a row-major rank-N float64 array.
type Dense struct {
	shape   []int
	strides []int
	data    []float64
}

// New returns a zero-filled tensor with the given shape.
func New(shape ...int) (*Dense, error) {
	n, err := volume(shape)
	if err != nil {
		return nil, err
	}
	return &Dense{
		shape:   append([]int(nil), shape...),
		strides: stridesFor(shape),
		data:    make([]float64, n),
	}, nil
}

// FromSlice wraps data in a tensor of the given shape without copying.
func FromSlice(data []float64, shape ...int) (*Dense, error) {
	n, err := volume(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrInvalidShape, len(data), shape)
	}
	return &Dense{
		shape:   append([]int(nil), shape...),
		strides: stridesFor(shape),
		data:    data,
	}, nil
}

// Must panics if err is non-nil. Intended for tests and constant construction.
func Must(t *Dense, err error) *Dense {
	if err != nil {
		panic(err)
	}
	return t
}

func volume(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: no dimensions", ErrInvalidShape)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: %v", ErrInvalidShape, shape)
		}
		n *= d
	}
	return n, nil
}

func stridesFor(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

// Shape returns a copy of the tensor's dimensions.
func (t *Dense) Shape() []int { return append([]int(nil), t.shape...) }

// Dims returns the tensor rank.
func (t *Dense) Dims() int { return len(t.shape) }

// Dim returns the size of dimension i.
func (t *Dense) Dim(i int) int { return t.shape[i] }

// Len returns the number of elements.
func (t *Dense) Len() int { return len(t.data) }

// Data returns the backing slice in row-major order.
func (t *Dense) Data() []float64 { return t.data }

// Offset converts a multi-index into a position in Data.
func (t *Dense) Offset(idx ...int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off += v * t.strides[i]
	}
	return off
}

// At returns the element at idx.
func (t *Dense) At(idx ...int) float64 { return t.data[t.Offset(idx...)] }

// Set stores v at idx.
func (t *Dense) Set(v float64, idx ...int) { t.data[t.Offset(idx...)] = v }

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	return &Dense{
		shape:   append([]int(nil), t.shape...),
		strides: append([]int(nil), t.strides...),
		data:    append([]float64(nil), t.data...),
	}
}

// Reshape returns a tensor sharing storage with t under a new shape.
func (t *Dense) Reshape(shape ...int) (*Dense, error) {
	n, err := volume(shape)
	if err != nil {
		return nil, err
	}
	if n != len(t.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.shape, shape)
	}
	return &Dense{
		shape:   append([]int(nil), shape...),
		strides: stridesFor(shape),
		data:    t.data,
	}, nil
}

// Plane returns the (i, j) plane of a rank-4 tensor as a slice sharing storage.
func (t *Dense) Plane(i, j int) []float64 {
	if len(t.shape) != 4 {
		panic(fmt.Sprintf("tensor: Plane on rank %d tensor", len(t.shape)))
	}
	h, w := t.shape[2], t.shape[3]
	off := t.Offset(i, j, 0, 0)
	return t.data[off : off+h*w]
}

// Mat wraps the (i, j) plane of a rank-4 tensor in a gonum matrix view.
// Writes through the view modify the tensor.
func (t *Dense) Mat(i, j int) *mat.Dense {
	return mat.NewDense(t.shape[2], t.shape[3], t.Plane(i, j))
}

// CheckSameShape reports ErrShapeMismatch unless a and b have identical shapes.
func CheckSameShape(a, b *Dense) error {
	if !SameShape(a.shape, b.shape) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.shape, b.shape)
	}
	return nil
}

// CheckShape reports ErrShapeMismatch unless t has exactly the given shape.
// A negative entry in want matches any size.
func CheckShape(t *Dense, want ...int) error {
	if len(t.shape) != len(want) {
		return fmt.Errorf("%w: got %v, want rank %d", ErrShapeMismatch, t.shape, len(want))
	}
	for i, w := range want {
		if w >= 0 && t.shape[i] != w {
			return fmt.Errorf("%w: got %v, want %v", ErrShapeMismatch, t.shape, want)
		}
	}
	return nil
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Size is the height and width of an image plane in pixels.
type Size struct {
	Height int `json:"height" validate:"gt=0"`
	Width  int `json:"width" validate:"gt=0"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool { return s.Height > 0 && s.Width > 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Height, s.Width) }
