// Package loss combines heatmap classification and offset regression terms into a
// masked per-landmark training loss.
//
// For every (image, landmark) pair the sub-loss is
//
//	HeatmapWeight * h + ox + oy
//
// where h is the mean elementwise heatmap loss over the plane and ox, oy are the
// mean absolute offset errors over the support region. Pairs whose mask entry is
// zero are skipped outright, so they contribute exactly zero even when their
// predictions hold NaN or Inf. The result is the sum of sub-losses divided by
// B * L.
package loss

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/ironsheep/landmark-mcp/internal/heatmap"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// ErrInvalidConfig is returned by New for unusable configurations.
var ErrInvalidConfig = errors.New("invalid loss configuration")

// HeatmapKind selects the elementwise heatmap loss.
type HeatmapKind int

const (
	// BCEWithLogits treats predictions as unnormalized scores.
	BCEWithLogits HeatmapKind = iota
	// L1 treats predictions as heatmaps.
	L1
)

func (k HeatmapKind) String() string {
	switch k {
	case BCEWithLogits:
		return "bce"
	case L1:
		return "l1"
	default:
		return fmt.Sprintf("HeatmapKind(%d)", int(k))
	}
}

// Support selects which pixels the offset term is computed over.
type Support int

const (
	// HeatmapSupport uses pixels where the target heatmap is positive.
	HeatmapSupport Support = iota
	// RadiusSupport uses pixels within Radius of the target point.
	RadiusSupport
)

func (s Support) String() string {
	switch s {
	case HeatmapSupport:
		return "heatmap"
	case RadiusSupport:
		return "radius"
	default:
		return fmt.Sprintf("Support(%d)", int(s))
	}
}

// Config configures a Loss.
type Config struct {
	Heatmap       HeatmapKind `validate:"oneof=0 1"`
	HeatmapWeight float64     `validate:"gte=0"`
	UseOffsets    bool
	Support       Support `validate:"oneof=0 1"`
	Radius        float64 `validate:"gte=0"`
}

// DefaultConfig returns the baseline heatmap plus offset configuration.
func DefaultConfig() Config {
	return Config{
		Heatmap:       BCEWithLogits,
		HeatmapWeight: 2,
		UseOffsets:    true,
		Support:       HeatmapSupport,
		Radius:        41,
	}
}

var validate = validator.New()

// Loss evaluates the composite loss. It holds no per-call state.
type Loss struct {
	cfg Config
}

// New validates cfg and returns a Loss.
func New(cfg Config) (*Loss, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if math.IsNaN(cfg.HeatmapWeight) || math.IsInf(cfg.HeatmapWeight, 0) {
		return nil, fmt.Errorf("%w: heatmap weight %v", ErrInvalidConfig, cfg.HeatmapWeight)
	}
	if cfg.UseOffsets && cfg.Support == RadiusSupport && !(cfg.Radius > 0) {
		return nil, fmt.Errorf("%w: radius support needs a positive radius, got %v", ErrInvalidConfig, cfg.Radius)
	}
	return &Loss{cfg: cfg}, nil
}

// Config returns the configuration the Loss was built with.
func (l *Loss) Config() Config { return l.cfg }

// Prediction holds the fields a model produced.
type Prediction struct {
	Heatmaps *tensor.Dense // (B, L, H, W)
	Offsets  *tensor.Dense // (B, L, 2, H, W), required when offsets are used
}

// Target holds the ground truth for a batch.
type Target struct {
	Heatmaps *tensor.Dense // (B, L, H, W)
	Offsets  *tensor.Dense // (B, L, 2, H, W), required when offsets are used
	// Mask is (B, L, 1, 1). When nil it is derived from Points, and when both are
	// nil every landmark counts as valid.
	Mask *tensor.Dense
	// Points is (B, L, 2). Required for RadiusSupport.
	Points *tensor.Dense
}

// Breakdown reports the loss and its parts, each already divided by B * L.
type Breakdown struct {
	Heatmap float64 `json:"heatmap"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Total   float64 `json:"total"`
}

// Compute evaluates the loss for one batch.
func (l *Loss) Compute(pred Prediction, target Target) (Breakdown, error) {
	if pred.Heatmaps == nil || target.Heatmaps == nil {
		return Breakdown{}, fmt.Errorf("%w: missing heatmaps", tensor.ErrShapeMismatch)
	}
	if err := tensor.CheckShape(target.Heatmaps, -1, -1, -1, -1); err != nil {
		return Breakdown{}, fmt.Errorf("target heatmaps: %w", err)
	}
	if err := tensor.CheckSameShape(pred.Heatmaps, target.Heatmaps); err != nil {
		return Breakdown{}, fmt.Errorf("heatmaps: %w", err)
	}
	b, n, h, w := target.Heatmaps.Dim(0), target.Heatmaps.Dim(1), target.Heatmaps.Dim(2), target.Heatmaps.Dim(3)

	mask, err := resolveMask(target, b, n)
	if err != nil {
		return Breakdown{}, err
	}
	if l.cfg.UseOffsets {
		if err := l.checkOffsets(pred, target, b, n, h, w); err != nil {
			return Breakdown{}, err
		}
	}

	var sumH, sumX, sumY float64
	for i := 0; i < b; i++ {
		for j := 0; j < n; j++ {
			if mask != nil && mask.At(i, j, 0, 0) == 0 {
				continue
			}
			sumH += l.heatmapTerm(pred.Heatmaps.Plane(i, j), target.Heatmaps.Plane(i, j))
			if l.cfg.UseOffsets {
				ox, oy := l.offsetTerm(pred, target, i, j)
				sumX += ox
				sumY += oy
			}
		}
	}

	count := float64(b * n)
	out := Breakdown{
		Heatmap: sumH / count,
		OffsetX: sumX / count,
		OffsetY: sumY / count,
	}
	out.Total = (l.cfg.HeatmapWeight*sumH + sumX + sumY) / count
	return out, nil
}

func resolveMask(target Target, b, n int) (*tensor.Dense, error) {
	if target.Points != nil {
		if err := tensor.CheckShape(target.Points, b, n, 2); err != nil {
			return nil, fmt.Errorf("target points: %w", err)
		}
	}
	switch {
	case target.Mask != nil:
		if err := tensor.CheckShape(target.Mask, b, n, 1, 1); err != nil {
			return nil, fmt.Errorf("mask: %w", err)
		}
		return target.Mask, nil
	case target.Points != nil:
		return heatmap.Mask(target.Points), nil
	default:
		return nil, nil
	}
}

func (l *Loss) checkOffsets(pred Prediction, target Target, b, n, h, w int) error {
	if pred.Offsets == nil || target.Offsets == nil {
		return fmt.Errorf("%w: offsets enabled but not provided", tensor.ErrShapeMismatch)
	}
	if err := tensor.CheckShape(target.Offsets, b, n, 2, h, w); err != nil {
		return fmt.Errorf("target offsets: %w", err)
	}
	if err := tensor.CheckSameShape(pred.Offsets, target.Offsets); err != nil {
		return fmt.Errorf("offsets: %w", err)
	}
	if l.cfg.Support == RadiusSupport && target.Points == nil {
		return fmt.Errorf("%w: radius support needs target points", tensor.ErrShapeMismatch)
	}
	return nil
}

func (l *Loss) heatmapTerm(pred, target []float64) float64 {
	var sum float64
	switch l.cfg.Heatmap {
	case L1:
		for k, x := range pred {
			sum += math.Abs(x - target[k])
		}
	default:
		for k, x := range pred {
			sum += bceWithLogits(x, target[k])
		}
	}
	return sum / float64(len(pred))
}

// bceWithLogits is the numerically stable binary cross-entropy of a logit x
// against a soft target t.
func bceWithLogits(x, t float64) float64 {
	return math.Max(x, 0) - x*t + math.Log1p(math.Exp(-math.Abs(x)))
}

func (l *Loss) offsetTerm(pred Prediction, target Target, i, j int) (float64, float64) {
	h, w := target.Heatmaps.Dim(2), target.Heatmaps.Dim(3)
	plane := h * w
	px := pred.Offsets.Data()[pred.Offsets.Offset(i, j, 0, 0, 0):][:plane]
	py := pred.Offsets.Data()[pred.Offsets.Offset(i, j, 1, 0, 0):][:plane]
	tx := target.Offsets.Data()[target.Offsets.Offset(i, j, 0, 0, 0):][:plane]
	ty := target.Offsets.Data()[target.Offsets.Offset(i, j, 1, 0, 0):][:plane]

	inSupport := l.supportFunc(target, i, j, w)
	var sx, sy float64
	var count int
	for k := 0; k < plane; k++ {
		if !inSupport(k) {
			continue
		}
		sx += math.Abs(px[k] - tx[k])
		sy += math.Abs(py[k] - ty[k])
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return sx / float64(count), sy / float64(count)
}

func (l *Loss) supportFunc(target Target, i, j, w int) func(k int) bool {
	if l.cfg.Support == RadiusSupport {
		x, y := target.Points.At(i, j, 0), target.Points.At(i, j, 1)
		r2 := l.cfg.Radius * l.cfg.Radius
		return func(k int) bool {
			dx := float64(k%w) - x
			dy := float64(k/w) - y
			return dx*dx+dy*dy <= r2
		}
	}
	hm := target.Heatmaps.Plane(i, j)
	return func(k int) bool { return hm[k] > 0 }
}

// Sum adds stage losses without weighting.
func Sum(losses ...float64) float64 {
	var total float64
	for _, v := range losses {
		total += v
	}
	return total
}
