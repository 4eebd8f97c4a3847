package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func fillRect(img *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

func TestToNRGBAAnchorsAtOrigin(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 9, 8))
	fillRect(src, src.Bounds(), color.NRGBA{R: 10, G: 20, B: 30, A: 40})
	src.SetNRGBA(5, 5, color.NRGBA{R: 255, A: 255})

	out := ToNRGBA(src)
	require.Equal(t, image.Rect(0, 0, 4, 3), out.Bounds())
	require.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(0, 0))
	require.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 40}, out.NRGBAAt(3, 2))

	out.SetNRGBA(0, 0, color.NRGBA{})
	require.Equal(t, color.NRGBA{R: 255, A: 255}, src.NRGBAAt(5, 5), "input must not be aliased")
}

func TestToNRGBAConvertsGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.SetGray(1, 0, color.Gray{Y: 200})

	out := ToNRGBA(src)
	require.Equal(t, color.NRGBA{R: 200, G: 200, B: 200, A: 255}, out.NRGBAAt(1, 0))
	require.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(0, 0))
}

func TestResizeProducesRequestedDimensions(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 7))
	fillRect(src, src.Bounds(), color.NRGBA{R: 255, A: 255})

	for _, size := range []image.Point{{10, 10}, {1, 1}, {3, 7}, {64, 2}} {
		out := Resize(src, size.X, size.Y)
		require.Equal(t, size.X, out.Bounds().Dx())
		require.Equal(t, size.Y, out.Bounds().Dy())
	}
}

func TestCopyRectExactSize(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	fillRect(src, image.Rect(2, 2, 4, 4), color.NRGBA{G: 255, A: 255})

	out := CopyRect(src, image.Rect(2, 2, 6, 5))
	require.Equal(t, image.Rect(0, 0, 4, 3), out.Bounds())
	require.Equal(t, color.NRGBA{G: 255, A: 255}, out.NRGBAAt(0, 0))
	require.Equal(t, color.NRGBA{G: 255, A: 255}, out.NRGBAAt(1, 1))
	require.Equal(t, color.NRGBA{}, out.NRGBAAt(3, 2))
}

func TestCopyRectOutsideSourceIsTransparent(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	fillRect(src, src.Bounds(), color.NRGBA{B: 255, A: 255})

	out := CopyRect(src, image.Rect(2, 2, 8, 8))
	require.Equal(t, image.Rect(0, 0, 6, 6), out.Bounds())
	require.Equal(t, color.NRGBA{B: 255, A: 255}, out.NRGBAAt(1, 1))
	require.Equal(t, color.NRGBA{}, out.NRGBAAt(2, 2))
	require.Equal(t, color.NRGBA{}, out.NRGBAAt(5, 5))

	none := CopyRect(src, image.Rect(10, 10, 12, 13))
	require.Equal(t, image.Rect(0, 0, 2, 3), none.Bounds())
}

func TestPNGRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	fillRect(src, src.Bounds(), color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	data, err := PNGBytes(src)
	require.NoError(t, err)

	out, format, err := DecodeBytes(data)
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, src.Pix, out.Pix)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte("not an image")))
	require.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	level, err := ParseCompression("best")
	require.NoError(t, err)
	require.Equal(t, png.BestCompression, level)

	level, err = ParseCompression("")
	require.NoError(t, err)
	require.Equal(t, png.DefaultCompression, level)

	_, err = ParseCompression("ultra")
	require.Error(t, err)
}
