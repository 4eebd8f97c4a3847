package mask

import (
	"image"
	"image/color"

	"github.com/disintegration/gift"
)

// ExtractAlphaMask copies the alpha channel of img into a grayscale mask.
func ExtractAlphaMask(img *image.NRGBA) *image.Gray {
	if img == nil {
		return nil
	}

	bounds := img.Bounds()
	mask := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			mask.SetGray(x, y, color.Gray{Y: img.NRGBAAt(x, y).A})
		}
	}

	return mask
}

// ApplyAlphaMask replaces the alpha channel of img with mask, in place.
// Both images must share the same bounds.
func ApplyAlphaMask(img *image.NRGBA, mask *image.Gray) {
	bounds := img.Bounds().Intersect(mask.Bounds())

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.Pix[img.PixOffset(x, y)+3] = mask.GrayAt(x, y).Y
		}
	}
}

// GaussianBlur applies a Gaussian blur filter to soften mask edges.
// The sigma parameter controls the blur radius (larger = more blur).
func GaussianBlur(mask *image.Gray, sigma float32) *image.Gray {
	g := gift.New(gift.GaussianBlur(sigma))

	dst := image.NewGray(g.Bounds(mask.Bounds()))
	g.Draw(dst, mask)

	return dst
}

// Feather softens the alpha edge of img in place. A non-positive sigma is a no-op.
func Feather(img *image.NRGBA, sigma float32) {
	if img == nil || sigma <= 0 {
		return
	}
	ApplyAlphaMask(img, GaussianBlur(ExtractAlphaMask(img), sigma))
}
