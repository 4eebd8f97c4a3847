package mask

import (
	"image"
	"image/color"

	"github.com/MeKo-Tech/layerstudio/internal/types"
)

// ForegroundThreshold is the alpha a pixel must exceed to count as foreground.
const ForegroundThreshold = 25

// ExtractBoundingBox scans every pixel of img and returns the box enclosing all
// foreground pixels in percent of img's own dimensions, or nil if there are none.
// Edges are inclusive, so a single foreground pixel yields a one-pixel box.
func ExtractBoundingBox(img image.Image) *types.BoundingBox {
	r, ok := foregroundRect(img)
	if !ok {
		return nil
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	return &types.BoundingBox{
		X:      float64(r.Min.X) / w * 100,
		Y:      float64(r.Min.Y) / h * 100,
		Width:  float64(r.Dx()) / w * 100,
		Height: float64(r.Dy()) / h * 100,
	}
}

// foregroundRect returns the inclusive foreground extent relative to img's origin,
// expressed as a half-open rectangle.
func foregroundRect(img image.Image) (image.Rectangle, bool) {
	b := img.Bounds()
	minX, minY := b.Dx(), b.Dy()
	maxX, maxY := -1, -1

	alphaAt := func(x, y int) uint8 {
		return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).A
	}
	if n, ok := img.(*image.NRGBA); ok {
		alphaAt = func(x, y int) uint8 {
			return n.Pix[n.PixOffset(x, y)+3]
		}
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if alphaAt(b.Min.X+x, b.Min.Y+y) <= ForegroundThreshold {
				continue
			}
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
