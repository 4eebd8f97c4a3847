// Package fal is a small client for the fal.ai model endpoints used for
// image edits, text-to-image generation and automatic segmentation.
package fal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/asset"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/dustin/go-humanize"
)

// DefaultBaseURL is the synchronous fal.ai run host.
const DefaultBaseURL = "https://fal.run"

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 120 * time.Second

// Model endpoints.
const (
	EndpointEditNano     = "fal-ai/nano-banana/edit"
	EndpointEditPro      = "fal-ai/nano-banana-pro/edit"
	EndpointGenerateNano = "fal-ai/nano-banana"
	EndpointGeneratePro  = "fal-ai/nano-banana-pro"
	EndpointAutoSegment  = "fal-ai/sam2/auto-segment"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("FAL_API_KEY not configured")

// APIError is a non-2xx answer from the service.
type APIError struct {
	Endpoint   string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Fetcher returns the raw bytes behind an asset reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Config configures a Client.
type Config struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Fetcher downloads segmentation assets when EmbedAssets is set (default: asset.Loader)
	Fetcher Fetcher
	APIKey  string
	// BaseURL of the run API (default: https://fal.run)
	BaseURL string
	// Timeout bounds each call (default: 120s)
	Timeout time.Duration
	// EmbedAssets inlines segmentation assets as data URLs so they outlive the provider's CDN links.
	EmbedAssets bool
}

// Client calls fal.ai model endpoints.
type Client struct {
	http        *http.Client
	logger      *slog.Logger
	fetcher     Fetcher
	apiKey      string
	baseURL     string
	timeout     time.Duration
	embedAssets bool
}

// NewClient creates a client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = asset.NewLoader(asset.LoaderConfig{HTTPClient: cfg.HTTPClient, Logger: cfg.Logger})
	}

	return &Client{
		http:        cfg.HTTPClient,
		logger:      cfg.Logger,
		fetcher:     cfg.Fetcher,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		embedAssets: cfg.EmbedAssets,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// EditEndpoint maps a model id onto its edit endpoint.
func EditEndpoint(m types.ModelID) string {
	if m.Normalize() == types.ModelPro {
		return EndpointEditPro
	}
	return EndpointEditNano
}

// GenerateEndpoint maps a model id onto its text-to-image endpoint.
func GenerateEndpoint(m types.ModelID) string {
	if m.Normalize() == types.ModelPro {
		return EndpointGeneratePro
	}
	return EndpointGenerateNano
}

type editInput struct {
	Prompt    string   `json:"prompt"`
	ImageURLs []string `json:"image_urls"`
}

type generateInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
}

type segmentInput struct {
	ImageURL     string `json:"image_url"`
	OutputFormat string `json:"output_format"`
	SyncMode     bool   `json:"sync_mode"`
}

// Edit sends img and the prompt to the edit endpoint of req.Model.
// The edit endpoints take no negative prompt, so it is not sent.
func (c *Client) Edit(ctx context.Context, img image.Image, req types.EditRequest) (types.EditResult, error) {
	ref, err := asset.EncodeDataURL(img)
	if err != nil {
		return types.EditResult{}, fmt.Errorf("failed to encode edit input: %w", err)
	}

	var out types.EditResult
	in := editInput{Prompt: strings.TrimSpace(req.Prompt), ImageURLs: []string{ref}}
	if err := c.call(ctx, EditEndpoint(req.Model), in, &out); err != nil {
		return types.EditResult{}, err
	}
	return out, nil
}

// Generate runs text-to-image generation.
func (c *Client) Generate(ctx context.Context, req types.GenerateRequest) (types.EditResult, error) {
	in := generateInput{
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		Seed:           req.Seed,
		Width:          req.Width,
		Height:         req.Height,
	}

	var out types.EditResult
	if err := c.call(ctx, GenerateEndpoint(req.Model), in, &out); err != nil {
		return types.EditResult{}, err
	}
	return out, nil
}

// Segment runs automatic segmentation on img.
func (c *Client) Segment(ctx context.Context, img image.Image) (types.SegmentationResult, error) {
	ref, err := asset.EncodeDataURL(img)
	if err != nil {
		return types.SegmentationResult{}, fmt.Errorf("failed to encode segmentation input: %w", err)
	}

	var out types.SegmentationResult
	in := segmentInput{ImageURL: ref, OutputFormat: "png", SyncMode: true}
	if err := c.call(ctx, EndpointAutoSegment, in, &out); err != nil {
		return types.SegmentationResult{}, err
	}

	c.log().Info("Segmentation completed",
		"combined_mask", out.CombinedMask != nil,
		"individual_masks", len(out.IndividualMasks),
		"segmented_images", len(out.SegmentedImages),
	)

	if c.embedAssets {
		c.embed(ctx, &out)
	}
	return out, nil
}

// embed inlines every remote asset of r. Failures leave the asset as a URL.
func (c *Client) embed(ctx context.Context, r *types.SegmentationResult) {
	one := func(a *types.Asset) {
		if a.URL == "" || a.DataURL != "" {
			return
		}
		data, err := c.fetcher.Fetch(ctx, a.URL)
		if err != nil {
			c.log().Warn("Unable to embed segmentation asset", "url", a.URL, "error", err)
			return
		}
		ct := a.ContentType
		if ct == "" {
			ct = "image/png"
		}
		a.DataURL = "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)
	}

	if r.CombinedMask != nil {
		one(r.CombinedMask)
	}
	for i := range r.IndividualMasks {
		one(&r.IndividualMasks[i])
	}
	for i := range r.SegmentedImages {
		one(&r.SegmentedImages[i])
	}
}

func (c *Client) call(ctx context.Context, endpoint string, in, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	c.log().Debug("Calling model endpoint", "endpoint", endpoint, "request_size", humanize.IBytes(uint64(len(body))))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fal %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	c.log().Info("Model call completed",
		"endpoint", endpoint,
		"request_id", resp.Header.Get("X-Fal-Request-Id"),
		"response_size", humanize.IBytes(uint64(len(data))),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// errorMessage extracts a readable message from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case len(payload.Detail) > 0:
			var s string
			if json.Unmarshal(payload.Detail, &s) == nil {
				return s
			}
			return string(payload.Detail)
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

func (c *Client) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}
