// Package tensor provides the dense float64 arrays shared by the landmark core.
//
// A Dense is a row-major, contiguous, rank-N array. The core works with a small
// number of layouts:
//   - Images: (batch, channel, height, width)
//   - Points: (batch, landmark, 2) with [..., 0] = x and [..., 1] = y
//   - Heatmaps: (batch, landmark, height, width)
//   - Offsets: (batch, landmark, 2, height, width)
//   - Masks: (batch, landmark, 1, 1) holding 0 or 1
//
// # Planes
//
// The trailing two dimensions of a rank-4 tensor form a plane. Plane returns the
// plane as a sub-slice sharing storage with the tensor, and Mat wraps it in a
// gonum mat.Dense view so window copies can be expressed as matrix slicing.
//
// # Error Handling
//
// Constructors reject non-positive dimensions with ErrInvalidShape. Operations that
// combine two tensors check their shapes first and fail with ErrShapeMismatch
// instead of broadcasting.
//
// # Ownership
//
// Tensors are not safe for concurrent mutation. Every function in the core that
// produces a tensor allocates it fresh; callers own the result.
package tensor
