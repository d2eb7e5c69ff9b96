package model

import (
	"fmt"

	"github.com/ironsheep/landmark-mcp/internal/heatmap"
	"github.com/ironsheep/landmark-mcp/internal/localize"
	"github.com/ironsheep/landmark-mcp/internal/loss"
	"github.com/ironsheep/landmark-mcp/internal/patch"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// cascadeModel refines global heatmap estimates with a local backbone run on
// patches of the original image.
//
// The global field is argmaxed, the estimates are scaled into the original frame
// and patches are cut around them. Each patch is a (1, ph, pw) image for the local
// backbone, whose first output channel is the local heatmap. Local heatmaps are
// pasted into a copy of the global field at the global estimates and the pasted
// field is argmaxed again.
type cascadeModel struct {
	base
	extractor *patch.Extractor
	paster    *patch.Paster
	loss      *loss.Loss
}

func newCascadeModel(opts Options) (Model, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("%w: cascade needs a local backbone", ErrInvalidOptions)
	}
	b, err := newBase(Cascade, opts)
	if err != nil {
		return nil, err
	}
	extractor, err := patch.NewExtractor(opts.Patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	pasteSize := opts.PasteSize
	if pasteSize == (tensor.Size{}) {
		pasteSize = patch.ScaleSize(opts.Patch, opts.Grid, opts.Original)
	}
	paster, err := patch.NewPaster(pasteSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	cfg := opts.Loss
	cfg.UseOffsets = false
	l, err := loss.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return &cascadeModel{base: b, extractor: extractor, paster: paster, loss: l}, nil
}

// stages holds the intermediate fields of one cascade pass.
type stages struct {
	global  *tensor.Dense // (B, L, H, W) global logits
	local   *tensor.Dense // (B, L, ph, pw) local logits in patch frames
	centres *tensor.Dense // (B, L, 2) global estimates in the original frame
	pred    *Prediction
}

func (m *cascadeModel) originals(batch Batch) (*tensor.Dense, error) {
	if batch.Originals == nil {
		return tensor.ResizePlanes(batch.Images, m.opts.Original.Height, m.opts.Original.Width)
	}
	if err := tensor.CheckShape(batch.Originals, batch.Images.Dim(0), 1, m.opts.Original.Height, m.opts.Original.Width); err != nil {
		return nil, fmt.Errorf("originals: %w", err)
	}
	return batch.Originals, nil
}

func (m *cascadeModel) run(batch Batch) (*stages, error) {
	b, l := batch.Images.Dim(0), m.opts.Landmarks
	out, err := forward(m.opts.Global, batch.Images, l, m.opts.Grid)
	if err != nil {
		return nil, fmt.Errorf("global: %w", err)
	}
	global := channels(out, 0, l)

	coarse, err := localize.Locate(global)
	if err != nil {
		return nil, err
	}
	gridCentres, err := localize.ToTensor(coarse)
	if err != nil {
		return nil, err
	}
	centres, err := scalePoints(gridCentres, m.opts.Grid, m.opts.Original)
	if err != nil {
		return nil, err
	}

	originals, err := m.originals(batch)
	if err != nil {
		return nil, err
	}
	patches, err := m.extractor.ExtractBatch(originals, centres)
	if err != nil {
		return nil, err
	}
	ps := m.extractor.Size()
	patches, err = patches.Reshape(b*l, 1, ps.Height, ps.Width)
	if err != nil {
		return nil, err
	}
	localOut, err := forward(m.opts.Local, patches, 1, ps)
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	local, err := channels(localOut, 0, 1).Reshape(b, l, ps.Height, ps.Width)
	if err != nil {
		return nil, err
	}

	pasted, err := m.paster.PasteBatch(global, local, gridCentres)
	if err != nil {
		return nil, err
	}
	refined, err := localize.Locate(pasted)
	if err != nil {
		return nil, err
	}
	points, err := localize.ToTensor(refined)
	if err != nil {
		return nil, err
	}

	return &stages{
		global:  global,
		local:   local,
		centres: centres,
		pred: &Prediction{
			Heatmaps: pasted,
			Global:   coarse,
			Refined:  refined,
			Points:   points,
		},
	}, nil
}

func (m *cascadeModel) Predict(batch Batch) (*Prediction, error) {
	if err := m.checkBatch(batch, false); err != nil {
		return nil, err
	}
	st, err := m.run(batch)
	if err != nil {
		return nil, err
	}
	return st.pred, nil
}

// ComputeLoss sums the global loss against grid-frame targets and the local loss
// against targets placed in each patch frame.
func (m *cascadeModel) ComputeLoss(batch Batch) (float64, *Prediction, error) {
	if err := m.checkBatch(batch, true); err != nil {
		return 0, nil, err
	}
	st, err := m.run(batch)
	if err != nil {
		return 0, nil, err
	}

	globalTargets, mask, err := heatmap.Build(batch.Points, m.opts.Grid, m.opts.Sigma)
	if err != nil {
		return 0, nil, err
	}
	globalLoss, err := m.loss.Compute(loss.Prediction{Heatmaps: st.global}, loss.Target{Heatmaps: globalTargets, Mask: mask})
	if err != nil {
		return 0, nil, fmt.Errorf("global: %w", err)
	}

	localPoints, err := m.patchFramePoints(batch.Points, st.centres)
	if err != nil {
		return 0, nil, err
	}
	localTargets, _, err := heatmap.Build(localPoints, m.extractor.Size(), m.opts.Sigma)
	if err != nil {
		return 0, nil, err
	}
	localLoss, err := m.loss.Compute(loss.Prediction{Heatmaps: st.local}, loss.Target{Heatmaps: localTargets, Mask: mask})
	if err != nil {
		return 0, nil, fmt.Errorf("local: %w", err)
	}

	return loss.Sum(globalLoss.Total, localLoss.Total), st.pred, nil
}

// patchFramePoints maps grid-frame targets into the frame of the patch cut around
// each original-frame centre. Missing landmarks stay at (-1, -1).
func (m *cascadeModel) patchFramePoints(points, centres *tensor.Dense) (*tensor.Dense, error) {
	orig, err := scalePoints(points, m.opts.Grid, m.opts.Original)
	if err != nil {
		return nil, err
	}
	boxes := patch.ComputeBoxes(centres, m.extractor.Size(), m.opts.Original)
	data := orig.Data()
	for k, b := range boxes {
		x, y := data[2*k], data[2*k+1]
		if !heatmap.Valid(x, y) {
			data[2*k], data[2*k+1] = -1, -1
			continue
		}
		data[2*k] = x - float64(b.ImageX1) + float64(b.PatchX1)
		data[2*k+1] = y - float64(b.ImageY1) + float64(b.PatchY1)
	}
	return orig, nil
}
