package mask

import (
	"image"
	"image/color"
)

// SamplePixels is how many leading pixels (row-major) DetectEncoding inspects.
// Masks whose opacity only varies past this prefix are classified as luminance
// masks; providers lay their masks out so that the prefix is representative.
const SamplePixels = 250

// Encoding tells where a mask carries its opacity.
type Encoding int

const (
	// EncodingLuminance means opacity is read from the red channel (255 = keep).
	EncodingLuminance Encoding = iota
	// EncodingAlpha means opacity is read from the alpha channel.
	EncodingAlpha
)

func (e Encoding) String() string {
	switch e {
	case EncodingAlpha:
		return "alpha"
	case EncodingLuminance:
		return "luminance"
	default:
		return "unknown"
	}
}

// Detection is the outcome of sampling a mask.
type Detection struct {
	HasAlphaVariation bool
	HasRGBVariation   bool
	Sampled           int
}

// Encoding applies the detection policy: alpha wins whenever any alpha variation was seen.
func (d Detection) Encoding() Encoding {
	if d.HasAlphaVariation {
		return EncodingAlpha
	}
	return EncodingLuminance
}

// DetectEncoding samples the first SamplePixels pixels of img.
func DetectEncoding(img image.Image) Detection {
	var d Detection
	b := img.Bounds()

	visit := func(c color.NRGBA) {
		if c.A < 255 {
			d.HasAlphaVariation = true
		}
		if c.R != c.A {
			d.HasRGBVariation = true
		}
		d.Sampled++
	}

	if n, ok := img.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y && d.Sampled < SamplePixels; y++ {
			off := n.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X && d.Sampled < SamplePixels; x++ {
				visit(color.NRGBA{R: n.Pix[off], G: n.Pix[off+1], B: n.Pix[off+2], A: n.Pix[off+3]})
				off += 4
			}
		}
		return d
	}

	for y := b.Min.Y; y < b.Max.Y && d.Sampled < SamplePixels; y++ {
		for x := b.Min.X; x < b.Max.X && d.Sampled < SamplePixels; x++ {
			visit(color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA))
		}
	}
	return d
}
