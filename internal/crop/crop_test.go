package crop

import (
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	return img
}

func segments(n int) []*layer.Layer {
	out := make([]*layer.Layer, n)
	for i := range out {
		out[i] = layer.NewSegment("seg", image.NewNRGBA(image.Rect(0, 0, 1, 1)), types.Asset{}, nil)
	}
	return out
}

func TestCropExactDimensions(t *testing.T) {
	out, err := Crop(gradient(100, 80), types.PixelRect{X: 10, Y: 20, Width: 30, Height: 15})
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 30, 15), out.Bounds())
	require.Equal(t, color.NRGBA{R: 10, G: 20, A: 255}, out.NRGBAAt(0, 0))
	require.Equal(t, color.NRGBA{R: 39, G: 34, A: 255}, out.NRGBAAt(29, 14))
}

func TestCropBeyondSourceIsTransparent(t *testing.T) {
	out, err := Crop(gradient(10, 10), types.PixelRect{X: 8, Y: 8, Width: 4, Height: 4})
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	require.Equal(t, uint8(255), out.NRGBAAt(1, 1).A)
	require.Equal(t, color.NRGBA{}, out.NRGBAAt(3, 3))
}

func TestCropRespectsSourceOrigin(t *testing.T) {
	src := image.NewNRGBA(image.Rect(50, 50, 60, 60))
	src.SetNRGBA(52, 53, color.NRGBA{B: 200, A: 255})

	out, err := Crop(src, types.PixelRect{X: 2, Y: 3, Width: 1, Height: 1})
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{B: 200, A: 255}, out.NRGBAAt(0, 0))
}

func TestCropRejectsEmptyRect(t *testing.T) {
	_, err := Crop(gradient(10, 10), types.PixelRect{Width: 0, Height: 5})
	require.ErrorIs(t, err, ErrInvalidRect)

	_, err = Crop(gradient(10, 10), types.PixelRect{Width: 5, Height: -1})
	require.ErrorIs(t, err, ErrInvalidRect)
}

func TestApplyToAIPurgesSegments(t *testing.T) {
	s := layer.NewStore()
	src := layer.New(layer.KindSource, "Background", gradient(40, 40))
	ai := layer.New(layer.KindAI, "AI Output 1", gradient(40, 40))
	require.NoError(t, s.Insert(src, layer.InsertOptions{}))
	require.NoError(t, s.Insert(ai, layer.InsertOptions{}))
	require.NoError(t, s.InsertBatch(segments(3)))
	require.Equal(t, 3, s.Count(layer.KindSegment))

	out, err := Run(s, types.PixelRect{X: 5, Y: 5, Width: 20, Height: 10})
	require.NoError(t, err)
	require.Equal(t, ai.ID, out.TargetID, "selected segment falls back to the latest ai layer")
	require.Equal(t, 3, out.PurgedSegments)

	require.Zero(t, s.Count(layer.KindSegment))
	got, _ := s.Get(ai.ID)
	require.Equal(t, image.Pt(20, 10), got.Size())
	require.Equal(t, ai.ID, s.SelectedID())

	untouched, _ := s.Get(src.ID)
	require.Equal(t, image.Pt(40, 40), untouched.Size())
}

func TestApplyToSourcePurgesSegments(t *testing.T) {
	s := layer.NewStore()
	src := layer.New(layer.KindSource, "Source Asset", gradient(10, 10))
	require.NoError(t, s.Insert(src, layer.InsertOptions{}))
	require.NoError(t, s.InsertBatch(segments(2)))

	out, err := Apply(s, src.ID, gradient(3, 3))
	require.NoError(t, err)
	require.Equal(t, 2, out.PurgedSegments)
	require.Zero(t, s.Count(layer.KindSegment))
}

func TestApplyRejectsEmptyAndUnknownKinds(t *testing.T) {
	s := layer.NewStore()
	adj := layer.New(layer.KindEmpty, "Adjustment 1", nil)
	odd := &layer.Layer{ID: "odd", Name: "odd", Visible: true}
	require.NoError(t, s.Insert(adj, layer.InsertOptions{}))
	require.NoError(t, s.Insert(odd, layer.InsertOptions{}))
	require.NoError(t, s.InsertBatch(segments(1)))
	before := s.Layers()

	_, err := Apply(s, adj.ID, gradient(2, 2))
	require.ErrorIs(t, err, ErrCropRejected)

	_, err = Apply(s, odd.ID, gradient(2, 2))
	require.ErrorIs(t, err, ErrCropRejected)

	require.Equal(t, before, s.Layers(), "a rejected crop is a no-op")

	_, err = Apply(s, "missing", gradient(2, 2))
	require.ErrorIs(t, err, ErrNoTarget)
}

func TestTargetPreference(t *testing.T) {
	s := layer.NewStore()
	_, err := Target(s)
	require.ErrorIs(t, err, ErrNoTarget)

	src := layer.New(layer.KindSource, "src", gradient(2, 2))
	require.NoError(t, s.Insert(src, layer.InsertOptions{}))
	segs := segments(1)
	require.NoError(t, s.InsertBatch(segs))

	got, err := Target(s)
	require.NoError(t, err)
	require.Equal(t, src.ID, got.ID, "no ai layer: fall back to source")

	ai1 := layer.New(layer.KindAI, "ai1", gradient(2, 2))
	ai2 := layer.New(layer.KindAI, "ai2", gradient(2, 2))
	require.NoError(t, s.Insert(ai1, layer.InsertOptions{}))
	require.NoError(t, s.Insert(ai2, layer.InsertOptions{}))
	require.NoError(t, s.Select(segs[0].ID))

	got, err = Target(s)
	require.NoError(t, err)
	require.Equal(t, ai2.ID, got.ID, "most recent ai layer")

	require.NoError(t, s.Move(ai2.ID, s.Len()))
	got, err = Target(s)
	require.NoError(t, err)
	require.Equal(t, ai2.ID, got.ID, "reordering does not change which ai layer is newest")

	require.NoError(t, s.Select(ai1.ID))
	got, err = Target(s)
	require.NoError(t, err)
	require.Equal(t, ai1.ID, got.ID, "active non-segment layer wins")

	adj := layer.New(layer.KindEmpty, "adj", nil)
	require.NoError(t, s.Insert(adj, layer.InsertOptions{Select: true}))
	got, err = Target(s)
	require.NoError(t, err)
	require.Equal(t, adj.ID, got.ID, "an active empty layer is still the target")

	_, err = Run(s, types.PixelRect{Width: 1, Height: 1})
	require.ErrorIs(t, err, ErrCropRejected)
}
