// Package patch extracts fixed-size windows around landmarks and pastes local
// fields back into global ones.
//
// # Window Geometry
//
// Both directions share one primitive, ComputeBox. Given a centre (x, y), a patch
// size (ph, pw) and an image size (H, W):
//
//  1. The centre is rounded to the nearest integer and clamped into
//     [0, W-1] x [0, H-1].
//  2. With ox = pw/2 and oy = ph/2, the image window is [y-oy, y+oy) x [x-ox, x+ox)
//     clipped to the image.
//  3. The patch window starts at the amount clipped on the low side, max(0, oy-y)
//     and max(0, ox-x), and has the same extent as the image window.
//
// Extraction copies the image window into the patch window of a zeroed patch.
// Pasting resizes the local field to the paste size, then copies its patch window
// into the image window of the global field. Pixels outside the window are never
// touched, and centres at or beyond an edge yield clipped (possibly empty) windows.
//
// # Batched Pasting
//
// PasteEach loops over every (image, landmark) pair. PasteBatch computes all boxes
// up front and fills the output in a single pass over the flattened destination
// index space. The two produce bit-identical results; the equivalence is covered by
// tests rather than checked at runtime.
package patch
