package model

import (
	"fmt"

	"github.com/ironsheep/landmark-mcp/internal/heatmap"
	"github.com/ironsheep/landmark-mcp/internal/localize"
	"github.com/ironsheep/landmark-mcp/internal/loss"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// stackedModel regresses Gaussian heatmaps. The heatmap variant is a single stack;
// the hourglass variant supervises every stack and decodes the last.
type stackedModel struct {
	base
	stacks int
	loss   *loss.Loss
}

func newHeatmapModel(opts Options) (Model, error) {
	m, err := newStackedModel(Heatmap, opts, 1)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newHourglassModel(opts Options) (Model, error) {
	m, err := newStackedModel(Hourglass, opts, max(1, opts.Stacks))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newStackedModel(v Variant, opts Options, stacks int) (*stackedModel, error) {
	b, err := newBase(v, opts)
	if err != nil {
		return nil, err
	}
	cfg := opts.Loss
	cfg.UseOffsets = false
	l, err := loss.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return &stackedModel{base: b, stacks: stacks, loss: l}, nil
}

// run returns the heatmap logits of every stack.
func (m *stackedModel) run(images *tensor.Dense) ([]*tensor.Dense, error) {
	l := m.opts.Landmarks
	out, err := forward(m.opts.Global, images, m.stacks*l, m.opts.Grid)
	if err != nil {
		return nil, err
	}
	stacks := make([]*tensor.Dense, m.stacks)
	for s := range stacks {
		stacks[s] = channels(out, s*l, l)
	}
	return stacks, nil
}

func (m *stackedModel) decode(heatmaps *tensor.Dense) (*Prediction, error) {
	dets, err := localize.Locate(heatmaps)
	if err != nil {
		return nil, err
	}
	points, err := localize.ToTensor(dets)
	if err != nil {
		return nil, err
	}
	return &Prediction{Heatmaps: heatmaps, Global: dets, Points: points}, nil
}

func (m *stackedModel) Predict(batch Batch) (*Prediction, error) {
	if err := m.checkBatch(batch, false); err != nil {
		return nil, err
	}
	stacks, err := m.run(batch.Images)
	if err != nil {
		return nil, err
	}
	return m.decode(stacks[len(stacks)-1])
}

func (m *stackedModel) ComputeLoss(batch Batch) (float64, *Prediction, error) {
	if err := m.checkBatch(batch, true); err != nil {
		return 0, nil, err
	}
	targets, mask, err := heatmap.Build(batch.Points, m.opts.Grid, m.opts.Sigma)
	if err != nil {
		return 0, nil, err
	}
	stacks, err := m.run(batch.Images)
	if err != nil {
		return 0, nil, err
	}

	totals := make([]float64, len(stacks))
	for s, hm := range stacks {
		br, err := m.loss.Compute(loss.Prediction{Heatmaps: hm}, loss.Target{Heatmaps: targets, Mask: mask})
		if err != nil {
			return 0, nil, fmt.Errorf("stack %d: %w", s, err)
		}
		totals[s] = br.Total
	}

	pred, err := m.decode(stacks[len(stacks)-1])
	if err != nil {
		return 0, nil, err
	}
	return loss.Sum(totals...), pred, nil
}
