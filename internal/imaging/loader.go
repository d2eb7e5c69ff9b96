package imaging

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"sync"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
)

// Radiograph is a decoded image file.
type Radiograph struct {
	// Path is the path the radiograph was loaded from.
	Path string

	// Format is the decoder name reported by image.Decode, e.g. "png" or "tiff".
	Format string

	// Image is the decoded image in its native color model.
	Image image.Image

	// FileSizeBytes is the size of the file on disk.
	FileSizeBytes int64
}

// Width returns the image width in pixels.
func (r *Radiograph) Width() int { return r.Image.Bounds().Dx() }

// Height returns the image height in pixels.
func (r *Radiograph) Height() int { return r.Image.Bounds().Dy() }

// RadiographCache provides thread-safe caching of decoded radiographs.
//
// Entries are keyed by the exact path string passed to Load. The cache holds at
// most capacity entries; loading beyond that evicts the least recently loaded
// radiograph.
//
// RadiographCache is safe for concurrent use by multiple goroutines.
//
// # Example Usage
//
//	cache := imaging.NewRadiographCache(16)
//	r, err := cache.Load("/data/cephalograms/001.bmp")
//	if err != nil {
//	    return err
//	}
//	img, err := imaging.ToGrid(r.Image, tensor.Size{Height: 800, Width: 640})
type RadiographCache struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	entries  map[string]*Radiograph
}

// NewRadiographCache creates an empty cache holding at most capacity radiographs.
// A non-positive capacity is treated as 1.
func NewRadiographCache(capacity int) *RadiographCache {
	return &RadiographCache{
		capacity: max(1, capacity),
		entries:  make(map[string]*Radiograph),
	}
}

// Load retrieves a radiograph from the cache or decodes it from disk.
//
// Supported formats are PNG, JPEG, GIF, BMP and TIFF.
//
// # Errors
//
//   - Returns error if the file does not exist or cannot be read
//   - Returns error if the file is not in a supported format
func (c *RadiographCache) Load(path string) (*Radiograph, error) {
	c.mu.RLock()
	if r, ok := c.entries[path]; ok {
		c.mu.RUnlock()
		return r, nil
	}
	c.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open radiograph: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode radiograph: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat radiograph: %w", err)
	}
	r := &Radiograph{Path: path, Format: format, Image: img, FileSizeBytes: stat.Size()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[path]; ok {
		return existing, nil
	}
	for len(c.order) >= c.capacity {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[path] = r
	c.order = append(c.order, path)
	return r, nil
}

// Len returns the number of cached radiographs.
func (c *RadiographCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all radiographs from the cache.
func (c *RadiographCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Radiograph)
	c.order = nil
	c.mu.Unlock()
}

// Evict removes a specific radiograph from the cache by its path.
//
// If the path is not in the cache, this method does nothing.
func (c *RadiographCache) Evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok {
		return
	}
	delete(c.entries, path)
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// RadiographInfo contains metadata about a loaded radiograph.
type RadiographInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the decoder name, e.g. "png", "jpeg", "bmp" or "tiff".
	Format string `json:"format"`

	// ColorDepth indicates the bit depth per channel: "8-bit" or "16-bit".
	ColorDepth string `json:"color_depth"`

	// Grayscale reports whether the file is stored with a gray color model.
	Grayscale bool `json:"grayscale"`

	// FileSizeBytes is the size of the image file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Info extracts metadata from a radiograph.
//
// # Color Depth Detection
//
// Color depth is determined by the Go image type:
//   - *image.RGBA64, *image.NRGBA64, *image.Gray16 -> "16-bit"
//   - All other types -> "8-bit"
func (r *Radiograph) Info() *RadiographInfo {
	colorDepth := "8-bit"
	grayscale := false
	switch r.Image.(type) {
	case *image.RGBA64, *image.NRGBA64:
		colorDepth = "16-bit"
	case *image.Gray16:
		colorDepth = "16-bit"
		grayscale = true
	case *image.Gray:
		grayscale = true
	}

	return &RadiographInfo{
		Width:         r.Width(),
		Height:        r.Height(),
		Format:        r.Format,
		ColorDepth:    colorDepth,
		Grayscale:     grayscale,
		FileSizeBytes: r.FileSizeBytes,
	}
}
