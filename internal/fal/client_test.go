package fal

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/stretchr/testify/require"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	return img
}

type recorded struct {
	path string
	auth string
	body map[string]any
}

func newServer(t *testing.T, status int, response string, rec *recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec.body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEditSendsImageAndPrompt(t *testing.T) {
	var rec recorded
	srv := newServer(t, http.StatusOK, `{"images":[{"url":"https://cdn/out.png"}],"description":"done"}`, &rec)

	c := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, HTTPClient: srv.Client()})
	res, err := c.Edit(context.Background(), testImage(), types.EditRequest{Prompt: "  make it blue ", Model: types.ModelPro})
	require.NoError(t, err)

	require.Equal(t, "/"+EndpointEditPro, rec.path)
	require.Equal(t, "Key secret", rec.auth)
	require.Equal(t, "make it blue", rec.body["prompt"])

	urls, ok := rec.body["image_urls"].([]any)
	require.True(t, ok)
	require.Len(t, urls, 1)
	require.True(t, strings.HasPrefix(urls[0].(string), "data:image/png;base64,"))
	require.NotContains(t, rec.body, "negative_prompt")

	require.Equal(t, "https://cdn/out.png", res.ImageURL())
	require.Equal(t, "done", res.Description)
}

func TestGeneratePayload(t *testing.T) {
	var rec recorded
	srv := newServer(t, http.StatusOK, `{"image":{"url":"https://cdn/gen.png"}}`, &rec)

	seed := int64(42)
	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	res, err := c.Generate(context.Background(), types.GenerateRequest{
		Prompt:         "a lighthouse",
		NegativePrompt: " fog ",
		Width:          512,
		Height:         768,
		Seed:           &seed,
	})
	require.NoError(t, err)

	require.Equal(t, "/"+EndpointGenerateNano, rec.path)
	require.Equal(t, "fog", rec.body["negative_prompt"])
	require.EqualValues(t, 512, rec.body["width"])
	require.EqualValues(t, 768, rec.body["height"])
	require.EqualValues(t, 42, rec.body["seed"])
	require.Equal(t, "https://cdn/gen.png", res.ImageURL())
}

func TestSegmentPayloadAndEmbedding(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.png" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer assets.Close()

	var rec recorded
	response := `{
		"combined_mask": {"url": "` + assets.URL + `/combined.png"},
		"individual_masks": [
			{"url": "` + assets.URL + `/0.png", "content_type": "image/webp"},
			{"url": "` + assets.URL + `/broken.png"}
		]
	}`
	srv := newServer(t, http.StatusOK, response, &rec)

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, EmbedAssets: true})
	res, err := c.Segment(context.Background(), testImage())
	require.NoError(t, err)

	require.Equal(t, "/"+EndpointAutoSegment, rec.path)
	require.Equal(t, "png", rec.body["output_format"])
	require.Equal(t, true, rec.body["sync_mode"])
	require.True(t, strings.HasPrefix(rec.body["image_url"].(string), "data:image/png;base64,"))

	require.Equal(t, "data:image/png;base64,UE5HREFUQQ==", res.CombinedMask.DataURL)
	require.Equal(t, "data:image/webp;base64,UE5HREFUQQ==", res.IndividualMasks[0].DataURL)
	require.Empty(t, res.IndividualMasks[1].DataURL, "failed downloads keep the plain url")
	require.NotEmpty(t, res.IndividualMasks[1].URL)
}

func TestCallErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		c := NewClient(Config{})
		require.False(t, c.Configured())
		_, err := c.Generate(context.Background(), types.GenerateRequest{Prompt: "x"})
		require.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("api error detail", func(t *testing.T) {
		var rec recorded
		srv := newServer(t, http.StatusUnprocessableEntity, `{"detail":"prompt rejected"}`, &rec)
		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL})

		_, err := c.Generate(context.Background(), types.GenerateRequest{Prompt: "x"})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		require.Equal(t, "prompt rejected", apiErr.Message)
	})

	t.Run("structured detail and plain bodies", func(t *testing.T) {
		require.Equal(t, `[{"msg":"bad"}]`, errorMessage([]byte(`{"detail":[{"msg":"bad"}]}`)))
		require.Equal(t, "boom", errorMessage([]byte(`{"error":"boom"}`)))
		require.Equal(t, "upstream down", errorMessage([]byte("upstream down\n")))
		require.Equal(t, "empty response", errorMessage(nil))
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
		_, err := c.Generate(context.Background(), types.GenerateRequest{Prompt: "x"})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("undecodable response", func(t *testing.T) {
		var rec recorded
		srv := newServer(t, http.StatusOK, `not json`, &rec)
		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
		_, err := c.Generate(context.Background(), types.GenerateRequest{Prompt: "x"})
		require.Error(t, err)
	})
}

func TestEndpoints(t *testing.T) {
	require.Equal(t, EndpointEditNano, EditEndpoint(""))
	require.Equal(t, EndpointEditPro, EditEndpoint(types.ModelPro))
	require.Equal(t, EndpointGenerateNano, GenerateEndpoint("turbo"))
	require.Equal(t, EndpointGeneratePro, GenerateEndpoint(types.ModelPro))
}
