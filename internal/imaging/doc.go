// Package imaging loads radiographs from disk and moves them between image and
// tensor form.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based with (0,0) at the top-left
// corner:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//
// # Tensors
//
// Images become (1, 1, H, W) tensors of gray levels. ToGrid resamples to the model
// grid first; both ToGrid and ToOriginal normalize to zero mean and unit variance,
// matching what the landmark core expects of its image batches.
//
// # Thread Safety
//
// The RadiographCache type is safe for concurrent use. Conversion functions are
// stateless and can be called concurrently.
//
// # Error Handling
//
// Functions return errors for:
//   - File I/O errors during loading
//   - Unsupported or corrupt image files
//   - Planes whose length does not match the stated size
//   - Encoding errors during image output
package imaging
