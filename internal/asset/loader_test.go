package asset

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/layerstudio/internal/raster"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/stretchr/testify/require"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	img.SetNRGBA(1, 1, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	return img
}

func TestDataURLRoundTrip(t *testing.T) {
	src := testImage()

	ref, err := EncodeDataURL(src)
	require.NoError(t, err)
	require.Contains(t, ref, "data:image/png;base64,")

	l := NewLoader(LoaderConfig{})
	out, err := l.Load(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), out.Bounds())
	require.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, out.NRGBAAt(1, 1))
}

func TestDecodeDataURL(t *testing.T) {
	data, ct, err := DecodeDataURL("data:text/plain,hello%20world")
	require.NoError(t, err)
	require.Equal(t, "text/plain", ct)
	require.Equal(t, "hello world", string(data))

	data, ct, err = DecodeDataURL("data:image/png;base64,aGk")
	require.NoError(t, err, "unpadded base64 should decode")
	require.Equal(t, "image/png", ct)
	require.Equal(t, "hi", string(data))

	_, _, err = DecodeDataURL("data:image/png;base64")
	require.Error(t, err)

	_, _, err = DecodeDataURL("https://example.com")
	require.Error(t, err)
}

func TestLoadFromHTTP(t *testing.T) {
	body, err := raster.PNGBytes(testImage())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mask.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	l := NewLoader(LoaderConfig{HTTPClient: srv.Client()})

	out, err := l.LoadAsset(context.Background(), types.Asset{URL: srv.URL + "/mask.png"})
	require.NoError(t, err)
	require.Equal(t, 4, out.Bounds().Dx())

	_, err = l.Load(context.Background(), srv.URL+"/missing.png")
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	body, err := raster.PNGBytes(testImage())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "base.png")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	l := NewLoader(LoaderConfig{AllowFiles: true})

	out, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 3, out.Bounds().Dy())

	out, err = l.Load(context.Background(), "file://"+path)
	require.NoError(t, err)
	require.Equal(t, 3, out.Bounds().Dy())
}

func TestLoadRejectsMissingAndOversized(t *testing.T) {
	l := NewLoader(LoaderConfig{MaxBytes: 16})

	_, err := l.LoadAsset(context.Background(), types.Asset{})
	require.True(t, errors.Is(err, ErrNoSource))

	ref, err := EncodeDataURL(testImage())
	require.NoError(t, err)

	_, err = l.Load(context.Background(), ref)
	require.True(t, errors.Is(err, ErrTooLarge), "got %v", err)
}

func TestLoadRejectsUndecodableData(t *testing.T) {
	l := NewLoader(LoaderConfig{})
	_, err := l.Load(context.Background(), "data:image/png;base64,bm90IGFuIGltYWdl")
	require.Error(t, err)
}

func TestLoadRefusesFilesUnlessAllowed(t *testing.T) {
	body, err := raster.PNGBytes(testImage())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secret.png")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	l := NewLoader(LoaderConfig{})
	for _, ref := range []string{path, "file://" + path, "../secret.png"} {
		_, err := l.Load(context.Background(), ref)
		require.ErrorIs(t, err, ErrLocalFile, ref)
	}

	_, err = l.LoadAsset(context.Background(), types.Asset{URL: "file://" + path})
	require.ErrorIs(t, err, ErrLocalFile)
}
