package model

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/ironsheep/landmark-mcp/internal/localize"
	"github.com/ironsheep/landmark-mcp/internal/loss"
	"github.com/ironsheep/landmark-mcp/internal/metric"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

var (
	// ErrUnknownVariant is returned for tags outside the closed variant set.
	ErrUnknownVariant = errors.New("unknown model variant")

	// ErrInvalidOptions is returned when model options fail validation.
	ErrInvalidOptions = errors.New("invalid model options")
)

// Variant names a model architecture.
type Variant string

const (
	Heatmap   Variant = "heatmap"
	Hourglass Variant = "hourglass"
	Offset    Variant = "offset"
	Cascade   Variant = "cascade"
)

type constructor func(Options) (Model, error)

var constructors = map[Variant]constructor{
	Heatmap:   newHeatmapModel,
	Hourglass: newHourglassModel,
	Offset:    newOffsetModel,
	Cascade:   newCascadeModel,
}

// Variants returns the supported tags in sorted order.
func Variants() []Variant {
	out := make([]Variant, 0, len(constructors))
	for v := range constructors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseVariant converts a tag string into a Variant.
func ParseVariant(s string) (Variant, error) {
	v := Variant(s)
	if _, ok := constructors[v]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
	return v, nil
}

// Options configures a model of any variant. Fields a variant does not use are
// ignored.
type Options struct {
	Landmarks int `validate:"gt=0"`
	// Grid is the size of the resized images and of every global field.
	Grid tensor.Size
	// Original is the size of the unresized images. Cascade patches are cut at
	// this resolution and metrics convert distances into this frame.
	Original tensor.Size
	// Patch is the cascade patch size in original pixels.
	Patch tensor.Size
	// PasteSize overrides the size local fields are resampled to before pasting.
	// When zero, the patch size scaled into the grid frame is used.
	PasteSize tensor.Size `validate:"-"`

	Sigma  float64 `validate:"gt=0"`
	Radius float64 `validate:"gt=0"`
	Stacks int     `validate:"gte=0"`

	Loss   loss.Config
	Metric metric.Config

	Global Backbone `validate:"required"`
	Local  Backbone
}

// DefaultOptions returns options for 19 cephalometric landmarks on 800x640 grids
// resized from 2400x1935 radiographs. Backbones must still be set.
func DefaultOptions() Options {
	return Options{
		Landmarks: 19,
		Grid:      tensor.Size{Height: 800, Width: 640},
		Original:  tensor.Size{Height: 2400, Width: 1935},
		Patch:     tensor.Size{Height: 96, Width: 96},
		Sigma:     1,
		Radius:    41,
		Stacks:    2,
		Loss:      loss.DefaultConfig(),
		Metric:    metric.DefaultConfig(),
	}
}

var validate = validator.New()

func (o Options) validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if o.PasteSize != (tensor.Size{}) && !o.PasteSize.Valid() {
		return fmt.Errorf("%w: paste size %s", ErrInvalidOptions, o.PasteSize)
	}
	return nil
}

// New constructs a model of the given variant.
func New(v Variant, opts Options) (Model, error) {
	ctor, ok := constructors[v]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, string(v))
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return ctor(opts)
}

// Batch is one step of training or evaluation data.
type Batch struct {
	// Images is (B, 1, H, W) at the grid size.
	Images *tensor.Dense
	// Points is (B, L, 2) in the grid frame. Negative coordinates mark missing
	// landmarks. Only needed for ComputeLoss.
	Points *tensor.Dense
	// Originals is (B, 1, Ho, Wo) at the original size. Used by the cascade; when
	// nil it is upsampled from Images.
	Originals *tensor.Dense
}

// Prediction is the output of a forward pass.
type Prediction struct {
	// Heatmaps is the final (B, L, H, W) field in the grid frame. For the cascade it
	// holds the global field with the local fields pasted in.
	Heatmaps *tensor.Dense
	// Offsets is the (B, L, 2, H, W) offset field of the offset variant.
	Offsets *tensor.Dense
	// Global holds the argmax of the global field.
	Global [][]localize.Detection
	// Refined holds the cascade estimates after pasting. Nil for single-stage
	// variants.
	Refined [][]localize.Detection
	// Points is the (B, L, 2) final estimate in the grid frame.
	Points *tensor.Dense
}

// Trainable computes a training loss for a batch.
type Trainable interface {
	ComputeLoss(batch Batch) (float64, *Prediction, error)
}

// Metric scores predictions against (B, L, 2) grid-frame targets.
type Metric interface {
	Evaluate(pred *Prediction, target *tensor.Dense) (*metric.Report, error)
}

// Model is a constructed variant.
type Model interface {
	Trainable
	Metric
	Variant() Variant
	Predict(batch Batch) (*Prediction, error)
}

// base carries what every variant shares.
type base struct {
	variant Variant
	opts    Options
	eval    *metric.Evaluator
}

func newBase(v Variant, opts Options) (base, error) {
	eval, err := metric.New(opts.Metric)
	if err != nil {
		return base{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return base{variant: v, opts: opts, eval: eval}, nil
}

func (m *base) Variant() Variant { return m.variant }

// Evaluate converts predicted and target points from the grid frame into the
// original frame and scores them there.
func (m *base) Evaluate(pred *Prediction, target *tensor.Dense) (*metric.Report, error) {
	if pred == nil || pred.Points == nil {
		return nil, fmt.Errorf("%w: prediction has no points", tensor.ErrShapeMismatch)
	}
	p, err := scalePoints(pred.Points, m.opts.Grid, m.opts.Original)
	if err != nil {
		return nil, fmt.Errorf("predictions: %w", err)
	}
	t, err := scalePoints(target, m.opts.Grid, m.opts.Original)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	return m.eval.Evaluate(p, t)
}

func (m *base) checkBatch(batch Batch, needPoints bool) error {
	if batch.Images == nil {
		return fmt.Errorf("%w: batch has no images", tensor.ErrShapeMismatch)
	}
	if err := tensor.CheckShape(batch.Images, -1, -1, -1, -1); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	if !needPoints {
		return nil
	}
	if batch.Points == nil {
		return fmt.Errorf("%w: batch has no points", tensor.ErrShapeMismatch)
	}
	if err := tensor.CheckShape(batch.Points, batch.Images.Dim(0), m.opts.Landmarks, 2); err != nil {
		return fmt.Errorf("points: %w", err)
	}
	return nil
}

// scalePoints maps (B, L, 2) points from frame "from" to frame "to". Negative
// coordinates stay negative.
func scalePoints(points *tensor.Dense, from, to tensor.Size) (*tensor.Dense, error) {
	if err := tensor.CheckShape(points, -1, -1, 2); err != nil {
		return nil, err
	}
	sx := float64(to.Width) / float64(from.Width)
	sy := float64(to.Height) / float64(from.Height)
	out := points.Clone()
	data := out.Data()
	for k := 0; k < len(data); k += 2 {
		data[k] *= sx
		data[k+1] *= sy
	}
	return out, nil
}
