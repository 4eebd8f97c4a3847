package types

// Asset references pixel data produced by a remote collaborator.
// DataURL carries inline bytes; URL points to a remote or local resource.
type Asset struct {
	URL         string `json:"url,omitempty"`
	DataURL     string `json:"data_url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Source returns the reference to load, preferring inline data over the URL.
// An empty string means the asset cannot be resolved.
func (a Asset) Source() string {
	if a.DataURL != "" {
		return a.DataURL
	}
	return a.URL
}

// IsZero reports whether the asset carries no reference at all.
func (a Asset) IsZero() bool {
	return a.Source() == ""
}

// SegmentationResult is the payload returned by an auto-segmentation service.
type SegmentationResult struct {
	CombinedMask    *Asset  `json:"combined_mask,omitempty"`
	IndividualMasks []Asset `json:"individual_masks,omitempty"`
	SegmentedImages []Asset `json:"segmented_images,omitempty"`
}

// Items applies the provider selection rule: pre-cut object images win when present,
// with the individual masks kept alongside for metadata; otherwise the masks
// themselves are the items and must be composited against the base raster.
func (r SegmentationResult) Items() (items []Asset, precut bool, masks []Asset) {
	if len(r.SegmentedImages) > 0 {
		return r.SegmentedImages, true, r.IndividualMasks
	}
	return r.IndividualMasks, false, nil
}

// ImageRef is a single generated image in an edit/generate response.
type ImageRef struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// EditResult is the payload returned by the edit and generate endpoints.
// Providers answer with either an images list or a single image.
type EditResult struct {
	Images      []ImageRef `json:"images,omitempty"`
	Image       *ImageRef  `json:"image,omitempty"`
	Description string     `json:"description,omitempty"`
}

// ImageURL returns the first non-empty URL of the two response shapes, or "".
func (r EditResult) ImageURL() string {
	if len(r.Images) > 0 && r.Images[0].URL != "" {
		return r.Images[0].URL
	}
	if r.Image != nil && r.Image.URL != "" {
		return r.Image.URL
	}
	return ""
}

// ModelID selects the generation model tier.
type ModelID string

const (
	ModelNano ModelID = "nano"
	ModelPro  ModelID = "pro"
)

// Normalize maps unknown or empty ids onto the default model.
func (m ModelID) Normalize() ModelID {
	if m == ModelPro {
		return ModelPro
	}
	return ModelNano
}

// EditRequest describes an image-to-image edit.
type EditRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	Model          ModelID `json:"model,omitempty"`
}

// GenerateRequest describes a text-to-image generation.
type GenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	Model          ModelID `json:"model,omitempty"`
}
