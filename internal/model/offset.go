package model

import (
	"fmt"

	"github.com/ironsheep/landmark-mcp/internal/heatmap"
	"github.com/ironsheep/landmark-mcp/internal/localize"
	"github.com/ironsheep/landmark-mcp/internal/loss"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// offsetModel regresses disk heatmaps and offset maps and decodes sub-pixel
// points from both.
type offsetModel struct {
	base
	grids *heatmap.ReferenceGrids
	loss  *loss.Loss
}

func newOffsetModel(opts Options) (Model, error) {
	b, err := newBase(Offset, opts)
	if err != nil {
		return nil, err
	}
	grids, err := heatmap.NewReferenceGrids(opts.Grid, opts.Radius, opts.Radius)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	cfg := opts.Loss
	cfg.UseOffsets = true
	cfg.Radius = opts.Radius
	l, err := loss.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return &offsetModel{base: b, grids: grids, loss: l}, nil
}

func (m *offsetModel) run(images *tensor.Dense) (*Prediction, error) {
	l := m.opts.Landmarks
	out, err := forward(m.opts.Global, images, 3*l, m.opts.Grid)
	if err != nil {
		return nil, err
	}
	heatmaps := channels(out, 0, l)
	offsets := offsetField(out, l)

	dets, err := localize.Locate(heatmaps)
	if err != nil {
		return nil, err
	}
	points, err := localize.DecodeOffsets(dets, offsets, m.opts.Radius)
	if err != nil {
		return nil, err
	}
	return &Prediction{Heatmaps: heatmaps, Offsets: offsets, Global: dets, Points: points}, nil
}

func (m *offsetModel) Predict(batch Batch) (*Prediction, error) {
	if err := m.checkBatch(batch, false); err != nil {
		return nil, err
	}
	return m.run(batch.Images)
}

func (m *offsetModel) ComputeLoss(batch Batch) (float64, *Prediction, error) {
	if err := m.checkBatch(batch, true); err != nil {
		return 0, nil, err
	}
	disks, mask, err := m.grids.BuildDisk(batch.Points)
	if err != nil {
		return 0, nil, err
	}
	offsets, err := m.grids.BuildOffsets(batch.Points)
	if err != nil {
		return 0, nil, err
	}
	pred, err := m.run(batch.Images)
	if err != nil {
		return 0, nil, err
	}
	br, err := m.loss.Compute(
		loss.Prediction{Heatmaps: pred.Heatmaps, Offsets: pred.Offsets},
		loss.Target{Heatmaps: disks, Offsets: offsets, Mask: mask, Points: batch.Points},
	)
	if err != nil {
		return 0, nil, err
	}
	return br.Total, pred, nil
}
