// Package raster holds the pixel-buffer helpers shared by the compositor, the
// crop engine and the asset loader. Every raster handed to the layer store is
// an *image.NRGBA anchored at the origin.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"io"
	"strings"

	"github.com/disintegration/gift"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Decode reads any registered image format and returns an origin-anchored NRGBA copy.
func Decode(r io.Reader) (*image.NRGBA, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return ToNRGBA(img), format, nil
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte) (*image.NRGBA, string, error) {
	return Decode(bytes.NewReader(data))
}

// ToNRGBA copies img into a new NRGBA buffer whose bounds start at (0,0).
// The input is never aliased, so callers may mutate the result freely.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			srcOff := src.PixOffset(b.Min.X, b.Min.Y+y)
			dstOff := dst.PixOffset(0, y)
			copy(dst.Pix[dstOff:dstOff+b.Dx()*4], src.Pix[srcOff:srcOff+b.Dx()*4])
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dst.SetNRGBA(x, y, c)
		}
	}
	return dst
}

// Resize resamples img to exactly width x height using linear resampling.
func Resize(img image.Image, width, height int) *image.NRGBA {
	if b := img.Bounds(); b.Dx() == width && b.Dy() == height {
		return ToNRGBA(img)
	}

	g := gift.New(gift.Resize(width, height, gift.LinearResampling))
	dst := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// CopyRect extracts r (in img's coordinate space) into a new raster of exactly r's size.
// Pixels of r that fall outside img stay fully transparent.
func CopyRect(img image.Image, r image.Rectangle) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))

	visible := r.Intersect(img.Bounds())
	if visible.Empty() {
		return dst
	}

	target := visible.Sub(r.Min)
	draw.Draw(dst, target, img, visible.Min, draw.Src)
	return dst
}

// ParseCompression maps a CLI compression name onto a PNG compression level.
func ParseCompression(name string) (png.CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return png.DefaultCompression, nil
	case "speed", "fast":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	case "none":
		return png.NoCompression, nil
	default:
		return png.DefaultCompression, fmt.Errorf("invalid png compression %q: must be default, speed, best or none", name)
	}
}

// EncodePNG writes img as PNG with the given compression level.
func EncodePNG(w io.Writer, img image.Image, level png.CompressionLevel) error {
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// PNGBytes encodes img as a default-compression PNG.
func PNGBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img, png.DefaultCompression); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
