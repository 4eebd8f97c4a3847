package composite

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/layerstudio/internal/mask"
	"github.com/MeKo-Tech/layerstudio/internal/raster"
)

// ErrEmptyRaster is returned when a base or mask raster has no pixels.
var ErrEmptyRaster = errors.New("raster is empty")

// MaskOptions tunes ComposeMasked.
type MaskOptions struct {
	// FeatherSigma softens the resulting alpha edge; 0 keeps the mask's alpha exactly.
	FeatherSigma float32
}

// ComposeMasked builds a preview raster with base's size and colour and the
// per-pixel opacity of mask. The mask is resampled to base's dimensions first
// and its encoding (alpha or luminance) is detected on the resampled pixels.
// Neither input is modified.
func ComposeMasked(base, m image.Image, opts MaskOptions) (*image.NRGBA, mask.Detection, error) {
	if base == nil || m == nil {
		return nil, mask.Detection{}, fmt.Errorf("base and mask are required: %w", ErrEmptyRaster)
	}
	bb, mb := base.Bounds(), m.Bounds()
	if bb.Empty() {
		return nil, mask.Detection{}, fmt.Errorf("base %v: %w", bb, ErrEmptyRaster)
	}
	if mb.Empty() {
		return nil, mask.Detection{}, fmt.Errorf("mask %v: %w", mb, ErrEmptyRaster)
	}

	scaled := raster.Resize(m, bb.Dx(), bb.Dy())
	detection := mask.DetectEncoding(scaled)
	useAlpha := detection.Encoding() == mask.EncodingAlpha

	dst := raster.ToNRGBA(base)
	for i := 0; i < len(dst.Pix); i += 4 {
		if useAlpha {
			dst.Pix[i+3] = scaled.Pix[i+3]
		} else {
			dst.Pix[i+3] = scaled.Pix[i]
		}
	}

	mask.Feather(dst, opts.FeatherSigma)

	return dst, detection, nil
}

// AlphaStats counts pixels by opacity band.
type AlphaStats struct {
	Opaque          int // alpha > 200
	SemiTransparent int // 50 < alpha <= 200
	Transparent     int
}

// Coverage is the fraction of opaque pixels.
func (s AlphaStats) Coverage() float64 {
	total := s.Opaque + s.SemiTransparent + s.Transparent
	if total == 0 {
		return 0
	}
	return float64(s.Opaque) / float64(total)
}

// MeasureAlpha summarises the alpha channel of img.
func MeasureAlpha(img *image.NRGBA) AlphaStats {
	var s AlphaStats
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			switch a := img.Pix[off+3]; {
			case a > 200:
				s.Opaque++
			case a > 50:
				s.SemiTransparent++
			default:
				s.Transparent++
			}
			off += 4
		}
	}
	return s
}

// Flatten stacks rasters bottom-to-top using alpha blending. The canvas spans the
// largest width and height among the inputs; every raster is anchored at the
// canvas origin. Nil entries are skipped.
func Flatten(layers []image.Image) (*image.NRGBA, error) {
	return FlattenOver(color.NRGBA{}, layers)
}

// FlattenOver is Flatten over a canvas pre-filled with background.
func FlattenOver(background color.NRGBA, layers []image.Image) (*image.NRGBA, error) {
	var size image.Point
	for _, img := range layers {
		if img == nil {
			continue
		}
		b := img.Bounds()
		if b.Min != (image.Point{}) {
			return nil, fmt.Errorf("layer bounds %v are not anchored at the origin", b)
		}
		size.X = max(size.X, b.Dx())
		size.Y = max(size.Y, b.Dy())
	}
	if size.X == 0 || size.Y == 0 {
		return nil, fmt.Errorf("nothing to flatten: %w", ErrEmptyRaster)
	}

	dst := image.NewNRGBA(image.Rectangle{Max: size})
	if background.A > 0 {
		for i := 0; i < len(dst.Pix); i += 4 {
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = background.R, background.G, background.B, background.A
		}
	}

	for _, img := range layers {
		if img == nil {
			continue
		}
		alphaOver(dst, img)
	}

	return dst, nil
}

// alphaOver blends src over dst. Pixels outside src's bounds read as transparent.
func alphaOver(dst *image.NRGBA, src image.Image) {
	bounds := dst.Bounds().Intersect(src.Bounds())

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			s := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			if s.A == 0 {
				continue
			}

			d := dst.NRGBAAt(x, y)

			sa := float64(s.A) / 255.0
			da := float64(d.A) / 255.0

			outA := sa + da*(1.0-sa)
			if outA == 0 {
				dst.SetNRGBA(x, y, color.NRGBA{})
				continue
			}

			blend := func(srcVal, dstVal uint8) uint8 {
				srcPremult := float64(srcVal) * sa
				dstPremult := float64(dstVal) * da
				outPremult := srcPremult + dstPremult*(1.0-sa)
				return uint8(math.Round(outPremult / outA))
			}

			dst.SetNRGBA(x, y, color.NRGBA{
				R: blend(s.R, d.R),
				G: blend(s.G, d.G),
				B: blend(s.B, d.B),
				A: uint8(math.Round(outA * 255.0)),
			})
		}
	}
}
