// Package metric scores landmark predictions against ground truth in millimetres.
package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/landmark-mcp/internal/heatmap"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// ErrInvalidConfig is returned by New for unusable configurations.
var ErrInvalidConfig = errors.New("invalid metric configuration")

// Config configures an Evaluator.
type Config struct {
	// Spacing is the physical size of one pixel in millimetres.
	Spacing float64 `validate:"gt=0"`
	// Thresholds are the radii, in millimetres, reported by Within.
	Thresholds []float64 `validate:"dive,gt=0"`
	// PointIDs optionally names the landmarks in order.
	PointIDs []string
}

// DefaultConfig returns the cephalometric defaults: 0.1 mm pixels and 1 to 4 mm
// success radii.
func DefaultConfig() Config {
	return Config{
		Spacing:    0.1,
		Thresholds: []float64{1, 2, 3, 4},
	}
}

var validate = validator.New()

// Evaluator computes Reports. It holds no per-call state.
type Evaluator struct {
	cfg Config
}

// New validates cfg and returns an Evaluator.
func New(cfg Config) (*Evaluator, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Thresholds = append([]float64(nil), cfg.Thresholds...)
	sort.Float64s(cfg.Thresholds)
	return &Evaluator{cfg: cfg}, nil
}

// PointError is the error of one valid landmark in one image.
type PointError struct {
	Image    int     `json:"image"`
	Landmark int     `json:"landmark"`
	Pixels   float64 `json:"pixels"`
	MM       float64 `json:"mm"`
}

// LandmarkStats summarizes one landmark across a batch.
type LandmarkStats struct {
	ID     string  `json:"id,omitempty"`
	Count  int     `json:"count"`
	MeanMM float64 `json:"mean_mm"`
}

// Within is the fraction of valid landmarks strictly closer than MM.
type Within struct {
	MM       float64 `json:"mm"`
	Fraction float64 `json:"fraction"`
}

// Report is the result of Evaluate.
type Report struct {
	Valid     int             `json:"valid"`
	MeanMM    float64         `json:"mean_mm"`
	StdMM     float64         `json:"std_mm"`
	Landmarks []LandmarkStats `json:"landmarks"`
	Within    []Within        `json:"within"`
	Errors    []PointError    `json:"errors"`
}

// Evaluate compares (B, L, 2) predicted and target points. Landmarks whose target
// has a negative coordinate are excluded from every statistic.
func (e *Evaluator) Evaluate(pred, target *tensor.Dense) (*Report, error) {
	if err := tensor.CheckShape(target, -1, -1, 2); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	if err := tensor.CheckSameShape(pred, target); err != nil {
		return nil, fmt.Errorf("predictions: %w", err)
	}
	if n := len(e.cfg.PointIDs); n > 0 && n != target.Dim(1) {
		return nil, fmt.Errorf("%w: %d point ids for %d landmarks", tensor.ErrShapeMismatch, n, target.Dim(1))
	}
	b, l := target.Dim(0), target.Dim(1)

	r := &Report{
		Landmarks: make([]LandmarkStats, l),
		Within:    make([]Within, len(e.cfg.Thresholds)),
	}
	var mm []float64
	sums := make([]float64, l)
	for i := 0; i < b; i++ {
		for j := 0; j < l; j++ {
			tx, ty := target.At(i, j, 0), target.At(i, j, 1)
			if !heatmap.Valid(tx, ty) {
				continue
			}
			px := math.Hypot(pred.At(i, j, 0)-tx, pred.At(i, j, 1)-ty)
			d := px * e.cfg.Spacing
			r.Errors = append(r.Errors, PointError{Image: i, Landmark: j, Pixels: px, MM: d})
			mm = append(mm, d)
			sums[j] += d
			r.Landmarks[j].Count++
		}
	}

	for j := range r.Landmarks {
		if len(e.cfg.PointIDs) > 0 {
			r.Landmarks[j].ID = e.cfg.PointIDs[j]
		}
		if c := r.Landmarks[j].Count; c > 0 {
			r.Landmarks[j].MeanMM = sums[j] / float64(c)
		}
	}

	r.Valid = len(mm)
	for k, th := range e.cfg.Thresholds {
		r.Within[k].MM = th
		if r.Valid == 0 {
			continue
		}
		var under int
		for _, d := range mm {
			if d < th {
				under++
			}
		}
		r.Within[k].Fraction = float64(under) / float64(r.Valid)
	}

	switch r.Valid {
	case 0:
	case 1:
		r.MeanMM = mm[0]
	default:
		r.MeanMM = floats.Sum(mm) / float64(r.Valid)
		r.StdMM = stat.StdDev(mm, nil)
	}
	return r, nil
}

// Values flattens the headline numbers of a report into named metrics.
func (r *Report) Values() map[string]float64 {
	out := map[string]float64{
		"mean_mm": r.MeanMM,
		"std_mm":  r.StdMM,
	}
	for _, w := range r.Within {
		out[fmt.Sprintf("within_%gmm", w.MM)] = w.Fraction
	}
	return out
}

// Stat is a mean and sample standard deviation across runs.
type Stat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Aggregate combines the headline metrics of several runs. Std is zero for a
// single run.
func Aggregate(reports []*Report) map[string]Stat {
	series := make(map[string][]float64)
	for _, r := range reports {
		for name, v := range r.Values() {
			series[name] = append(series[name], v)
		}
	}
	out := make(map[string]Stat, len(series))
	for name, vs := range series {
		if len(vs) == 1 {
			out[name] = Stat{Mean: vs[0]}
			continue
		}
		mean, std := stat.MeanStdDev(vs, nil)
		out[name] = Stat{Mean: mean, Std: std}
	}
	return out
}
