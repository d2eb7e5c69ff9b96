// Package heatmap converts sparse landmark coordinates into dense target fields.
//
// Two families of targets are supported:
//
//   - Gaussian heatmaps (Build): one amplitude-1 bump per landmark, evaluated
//     directly at every pixel, plus a validity mask for missing landmarks.
//   - Disk heatmaps and offset maps (ReferenceGrids): binary disks and normalized
//     pixel-to-landmark offsets cut from grids that are precomputed once at twice
//     the field size and then windowed around each landmark.
//
// # Missing Landmarks
//
// A landmark with any negative coordinate is missing. Its field is still computed
// (centred at, or clamped to, the sentinel position) and the mask entry is zero.
// Callers must apply the mask; fields are never clipped or zeroed here.
//
// # Sharing
//
// Functions allocate fresh output tensors on every call. A ReferenceGrids value is
// immutable after construction and can be shared freely between goroutines.
package heatmap
