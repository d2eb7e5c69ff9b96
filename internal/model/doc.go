// Package model assembles the landmark core into trainable model variants.
//
// A model wraps one or two Backbones, opaque tensor-in/tensor-out blocks that map
// a (B, C, H, W) image batch to a (B, OutC, H', W') field. The first L output
// channels are heatmap logits; variants that regress offsets read the next L
// channels as x offsets and the L after that as y offsets.
//
// # Variants
//
// Variants are a closed set of tags, each bound to a constructor at compile time:
//
//   - heatmap: one backbone, Gaussian targets, argmax decoding
//   - hourglass: stacked heatmap blocks with a loss on every stack, decoded from
//     the last one
//   - offset: disk heatmaps plus offset maps cut from precomputed reference grids,
//     decoded as argmax plus offset
//   - cascade: a global heatmap model whose estimates are refined by a local
//     backbone run on patches of the original image
//
// New rejects any other tag with ErrUnknownVariant.
//
// # Capabilities
//
// Models do not drive training. An external loop calls ComputeLoss through the
// Trainable interface and scores predictions through the Metric interface.
// Every call allocates its own targets; the only state shared between calls is
// read-only configuration and reference grids.
package model
