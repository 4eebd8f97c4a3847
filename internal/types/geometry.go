package types

import (
	"fmt"
	"image"
	"math"
)

// BoundingBox is a rectangle in percent units (0-100) of the raster it was measured on.
type BoundingBox struct {
	X      float64 `json:"x"`      // Left edge (% of width)
	Y      float64 `json:"y"`      // Top edge (% of height)
	Width  float64 `json:"width"`  // Extent (% of width)
	Height float64 `json:"height"` // Extent (% of height)
}

// String returns a human-readable representation of the bounding box
func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%.2f%%,%.2f%%,%.2f%%x%.2f%%)", b.X, b.Y, b.Width, b.Height)
}

// Pixels maps the normalized box back onto a raster of the given size.
// Edges snap to the nearest pixel boundary.
func (b BoundingBox) Pixels(width, height int) image.Rectangle {
	minX := int(math.Round(b.X * float64(width) / 100))
	minY := int(math.Round(b.Y * float64(height) / 100))
	maxX := int(math.Round((b.X + b.Width) * float64(width) / 100))
	maxY := int(math.Round((b.Y + b.Height) * float64(height) / 100))
	return image.Rect(minX, minY, maxX, maxY).Intersect(image.Rect(0, 0, width, height))
}

// PixelRect is a rectangle in source-pixel coordinates, as produced by a crop selection.
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the pixel rectangle into an image.Rectangle.
func (r PixelRect) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the rectangle has no area.
func (r PixelRect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// String returns a human-readable representation of the rectangle
func (r PixelRect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}
