// Package session owns one editing session: the layer stack, the remote
// collaborators that produce new rasters and a display-only action history.
//
// Collaborator calls and per-item segmentation work run without the session
// lock; every store mutation happens under it, so a failed or cancelled action
// leaves the stack untouched.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MeKo-Tech/layerstudio/internal/composite"
	"github.com/MeKo-Tech/layerstudio/internal/crop"
	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/layerpack"
	"github.com/MeKo-Tech/layerstudio/internal/raster"
	"github.com/MeKo-Tech/layerstudio/internal/segment"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/MeKo-Tech/layerstudio/internal/worker"
)

const (
	// SourceName is the display name of an imported source layer.
	SourceName = "Source Asset"
	// MaxPromptLength is the longest accepted prompt, in characters.
	MaxPromptLength = 2000
	// DefaultDimension is used for generate requests without a size.
	DefaultDimension = 1024
	MinDimension     = 256
	MaxDimension     = 2048
)

var (
	// ErrNoImage is returned when an action needs a raster and the stack has none.
	ErrNoImage = errors.New("no image loaded")
	// ErrPromptRequired is returned for empty prompts.
	ErrPromptRequired = errors.New("prompt is required")
	// ErrPromptTooLong is returned for prompts over MaxPromptLength characters.
	ErrPromptTooLong = fmt.Errorf("prompt exceeds %d characters", MaxPromptLength)
	// ErrInvalidModel is returned for model ids other than nano and pro.
	ErrInvalidModel = errors.New("model must be nano or pro")
	// ErrInvalidDimension is returned for generate sizes outside MinDimension..MaxDimension.
	ErrInvalidDimension = fmt.Errorf("dimensions must be between %d and %d", MinDimension, MaxDimension)
	// ErrNotConfigured is returned when the needed collaborator is missing or has no credentials.
	ErrNotConfigured = errors.New("image service not configured")
	// ErrNoImageInResponse is returned when an edit or generate response carries no image.
	ErrNoImageInResponse = errors.New("no image in response")
	// ErrBaseChanged is returned when the segmentation base was replaced while segmenting.
	ErrBaseChanged = errors.New("base layer changed during segmentation")
)

// Editor produces new rasters from prompts.
type Editor interface {
	Edit(ctx context.Context, img image.Image, req types.EditRequest) (types.EditResult, error)
	Generate(ctx context.Context, req types.GenerateRequest) (types.EditResult, error)
}

// Segmenter splits a raster into per-object masks or cutouts.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (types.SegmentationResult, error)
}

// Loader resolves result references into rasters.
type Loader interface {
	Load(ctx context.Context, ref string) (*image.NRGBA, error)
	LoadAsset(ctx context.Context, a types.Asset) (*image.NRGBA, error)
}

// configurable is implemented by collaborators that may lack credentials.
type configurable interface {
	Configured() bool
}

// Config configures a Session.
type Config struct {
	Editor    Editor
	Segmenter Segmenter
	Loader    Loader
	Logger    *slog.Logger
	// OnProgress receives per-item segmentation progress.
	OnProgress worker.ProgressFunc
	// Now overrides the clock (tests).
	Now func() time.Time
	// SegmentWorkers bounds parallel mask compositing (default: 4)
	SegmentWorkers int
	// FeatherSigma softens segment edges (default: 0)
	FeatherSigma float32
}

// HistoryEntry is one line of the action log.
type HistoryEntry struct {
	Time    time.Time `json:"time"`
	Action  string    `json:"action"`
	Detail  string    `json:"detail,omitempty"`
	LayerID string    `json:"layerId,omitempty"`
}

// Session serialises all mutations of one layer stack.
type Session struct {
	editor    Editor
	segmenter Segmenter
	loader    Loader
	logger    *slog.Logger
	store     *layer.Store
	pipeline  *segment.Pipeline
	now       func() time.Time
	history   []HistoryEntry
	aiCount   int
	adjCount  int
	mu        sync.Mutex
}

// New creates an empty session.
func New(cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	store := layer.NewStore()
	store.SetClock(cfg.Now)

	return &Session{
		editor:    cfg.Editor,
		segmenter: cfg.Segmenter,
		loader:    cfg.Loader,
		logger:    cfg.Logger,
		store:     store,
		now:       cfg.Now,
		pipeline: segment.New(segment.Config{
			Loader:       cfg.Loader,
			Logger:       cfg.Logger,
			OnProgress:   cfg.OnProgress,
			Workers:      cfg.SegmentWorkers,
			FeatherSigma: cfg.FeatherSigma,
		}),
	}
}

// EditorConfigured reports whether edit and generate can reach a service.
func (s *Session) EditorConfigured() bool {
	return ready(s.editor)
}

// SegmenterConfigured reports whether auto-segmentation can reach a service.
func (s *Session) SegmenterConfigured() bool {
	return ready(s.segmenter)
}

func ready(c any) bool {
	if c == nil {
		return false
	}
	if cc, ok := c.(configurable); ok {
		return cc.Configured()
	}
	return true
}

// ImportSource replaces every source layer with img and selects it.
// Segment layers were cut from the old base and are removed.
// The AI output counter restarts for the new source.
func (s *Session) ImportSource(img image.Image, label string) (layer.Layer, error) {
	if img == nil || img.Bounds().Empty() {
		return layer.Layer{}, ErrNoImage
	}

	l := layer.New(layer.KindSource, SourceName, raster.ToNRGBA(img))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Insert(l, layer.InsertOptions{ReplaceKind: layer.KindSource, Select: true}); err != nil {
		return layer.Layer{}, fmt.Errorf("failed to import source: %w", err)
	}
	purged := s.store.RemoveKind(layer.KindSegment)
	s.aiCount = 0

	size := l.Size()
	detail := fmt.Sprintf("%s (%dx%d)", label, size.X, size.Y)
	if purged > 0 {
		detail += fmt.Sprintf(", removed %d segments", purged)
	}
	s.record("import", detail, l.ID)
	s.log().Info("Imported source", "label", label, "width", size.X, "height", size.Y, "layer", l.ID, "purged_segments", purged)
	return *l, nil
}

// Edit sends the latest AI raster (or the source when there is none) through
// the editor and adds the result as a new selected AI layer.
func (s *Session) Edit(ctx context.Context, req types.EditRequest) (layer.Layer, error) {
	if err := validatePrompt(req.Prompt); err != nil {
		return layer.Layer{}, err
	}
	model, err := validateModel(req.Model)
	if err != nil {
		return layer.Layer{}, err
	}
	req.Model = model
	if !s.EditorConfigured() {
		return layer.Layer{}, ErrNotConfigured
	}

	s.mu.Lock()
	base, ok := s.editBase()
	s.mu.Unlock()
	if !ok {
		return layer.Layer{}, ErrNoImage
	}

	res, err := s.editor.Edit(ctx, base.Raster, req)
	if err != nil {
		return layer.Layer{}, fmt.Errorf("failed to edit image: %w", err)
	}

	img, err := s.fetchResult(ctx, res)
	if err != nil {
		return layer.Layer{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.aiCount++
	l := layer.New(layer.KindAI, fmt.Sprintf("AI Output %d", s.aiCount), img)
	if err := s.store.Insert(l, layer.InsertOptions{Select: true}); err != nil {
		return layer.Layer{}, fmt.Errorf("failed to add edit result: %w", err)
	}

	s.record("edit", shorten(req.Prompt), l.ID)
	s.log().Info("Added edit result", "layer", l.Name, "base", base.Name, "model", model)
	return *l, nil
}

// Generate creates an image from text alone and adds it as a new selected AI layer.
func (s *Session) Generate(ctx context.Context, req types.GenerateRequest) (layer.Layer, error) {
	if err := validatePrompt(req.Prompt); err != nil {
		return layer.Layer{}, err
	}
	model, err := validateModel(req.Model)
	if err != nil {
		return layer.Layer{}, err
	}
	req.Model = model
	if req.Width == 0 {
		req.Width = DefaultDimension
	}
	if req.Height == 0 {
		req.Height = DefaultDimension
	}
	if !validDimension(req.Width) || !validDimension(req.Height) {
		return layer.Layer{}, ErrInvalidDimension
	}
	if !s.EditorConfigured() {
		return layer.Layer{}, ErrNotConfigured
	}

	res, err := s.editor.Generate(ctx, req)
	if err != nil {
		return layer.Layer{}, fmt.Errorf("failed to generate image: %w", err)
	}

	img, err := s.fetchResult(ctx, res)
	if err != nil {
		return layer.Layer{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.aiCount++
	l := layer.New(layer.KindAI, fmt.Sprintf("Generation %d", s.aiCount), img)
	if err := s.store.Insert(l, layer.InsertOptions{Select: true}); err != nil {
		return layer.Layer{}, fmt.Errorf("failed to add generated image: %w", err)
	}

	s.record("generate", shorten(req.Prompt), l.ID)
	s.log().Info("Added generated image", "layer", l.Name, "width", req.Width, "height", req.Height, "model", model)
	return *l, nil
}

// AddAdjustment adds an empty, selected adjustment layer.
func (s *Session) AddAdjustment() (layer.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := layer.New(layer.KindEmpty, fmt.Sprintf("Adjustment %d", s.adjCount+1), nil)
	if err := s.store.Insert(l, layer.InsertOptions{Select: true}); err != nil {
		return layer.Layer{}, fmt.Errorf("failed to add adjustment: %w", err)
	}
	s.adjCount++

	s.record("adjustment", l.Name, l.ID)
	return *l, nil
}

// AutoSegment segments the source raster (or the latest AI raster) and
// replaces the segment layers with the result.
func (s *Session) AutoSegment(ctx context.Context) (segment.Result, error) {
	if !s.SegmenterConfigured() {
		return segment.Result{}, ErrNotConfigured
	}

	s.mu.Lock()
	base, ok := s.segmentBase()
	s.mu.Unlock()
	if !ok {
		return segment.Result{}, segment.ErrNoBaseRaster
	}

	res, err := s.segmenter.Segment(ctx, base.Raster)
	if err != nil {
		return segment.Result{}, fmt.Errorf("failed to segment image: %w", err)
	}

	batch := segment.BatchFromResult(res)
	prep, err := s.pipeline.Prepare(ctx, base.Raster, batch)
	if err != nil {
		return segment.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.store.Get(base.ID); !ok || current.Raster != base.Raster {
		return segment.Result{}, ErrBaseChanged
	}

	result, err := prep.Commit(s.store)
	if err != nil && !errors.Is(err, segment.ErrNoSegments) {
		return result, err
	}

	s.record("segment", fmt.Sprintf("%d of %d segments", len(result.LayerIDs), result.Total), result.BackgroundID)
	return result, err
}

// Crop cuts rect out of the crop target (see crop.Target) and purges segments.
func (s *Session) Crop(rect types.PixelRect) (crop.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := crop.Run(s.store, rect)
	if err != nil {
		return out, err
	}

	s.record("crop", rect.String(), out.TargetID)
	s.log().Info("Cropped layer", "layer", out.TargetID, "rect", rect.String(), "purged_segments", out.PurgedSegments)
	return out, nil
}

// Select moves the selection to id.
func (s *Session) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Select(id)
}

// ToggleVisibility flips the visibility of id and returns the new state.
func (s *Session) ToggleVisibility(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible, err := s.store.ToggleVisibility(id)
	if err != nil {
		return false, err
	}
	s.record("visibility", fmt.Sprintf("visible=%t", visible), id)
	return visible, nil
}

// Solo shows segment id and hides every other segment.
func (s *Session) Solo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Solo(id); err != nil {
		return err
	}
	s.record("solo", "", id)
	return nil
}

// Remove deletes layer id.
func (s *Session) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", layer.ErrLayerNotFound, id)
	}
	if err := s.store.Remove(id); err != nil {
		return err
	}
	s.record("remove", l.Name, id)
	return nil
}

// Move places layer id at index (0 is the top of the stack).
func (s *Session) Move(id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Move(id, index); err != nil {
		return err
	}
	s.record("move", fmt.Sprintf("to %d", index), id)
	return nil
}

// Layers returns a snapshot of the stack, top first.
func (s *Session) Layers() []layer.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Layers()
}

// Layer returns a copy of layer id.
func (s *Session) Layer(id string) (layer.Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Get(id)
}

// Selected returns the selected layer.
func (s *Session) Selected() (layer.Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Selected()
}

// Flatten composites every visible layer with pixels, bottom to top.
func (s *Session) Flatten() (*image.NRGBA, error) {
	layers := s.Layers()

	var stack []image.Image
	for i := len(layers) - 1; i >= 0; i-- {
		if l := layers[i]; l.Visible && l.HasRaster() {
			stack = append(stack, l.Raster)
		}
	}
	if len(stack) == 0 {
		return nil, ErrNoImage
	}
	return composite.Flatten(stack)
}

// ExportPack writes the whole stack to a layer pack at path.
func (s *Session) ExportPack(path, name string, level png.CompressionLevel) error {
	s.mu.Lock()
	layers := s.store.Layers()
	selected := s.store.SelectedID()
	s.mu.Unlock()

	meta := layerpack.Metadata{
		Name:       name,
		SelectedID: selected,
		CreatedAt:  s.now(),
	}
	for _, l := range layers {
		size := l.Size()
		meta.Width = max(meta.Width, size.X)
		meta.Height = max(meta.Height, size.Y)
	}

	if err := layerpack.Export(path, meta, layers, level); err != nil {
		return fmt.Errorf("failed to export layer pack: %w", err)
	}

	s.mu.Lock()
	s.record("export", path, "")
	s.mu.Unlock()

	s.log().Info("Exported layer pack", "path", path, "layers", len(layers))
	return nil
}

// History returns the action log, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}

// editBase picks the raster an edit starts from. Must be called with lock held.
func (s *Session) editBase() (layer.Layer, bool) {
	if l, ok := s.store.Latest(layer.KindAI); ok && l.HasRaster() {
		return l, true
	}
	if l, ok := s.store.Latest(layer.KindSource); ok && l.HasRaster() {
		return l, true
	}
	return layer.Layer{}, false
}

// segmentBase picks the raster segmentation runs on. Must be called with lock held.
func (s *Session) segmentBase() (layer.Layer, bool) {
	if l, ok := s.store.Latest(layer.KindSource); ok && l.HasRaster() {
		return l, true
	}
	if l, ok := s.store.Latest(layer.KindAI); ok && l.HasRaster() {
		return l, true
	}
	return layer.Layer{}, false
}

func (s *Session) fetchResult(ctx context.Context, res types.EditResult) (*image.NRGBA, error) {
	ref := res.ImageURL()
	if ref == "" {
		return nil, ErrNoImageInResponse
	}
	if s.loader == nil {
		return nil, fmt.Errorf("%w: no asset loader", ErrNotConfigured)
	}
	img, err := s.loader.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load result image: %w", err)
	}
	return img, nil
}

// record appends to the history. Must be called with lock held.
func (s *Session) record(action, detail, layerID string) {
	s.history = append(s.history, HistoryEntry{
		Time:    s.now(),
		Action:  action,
		Detail:  detail,
		LayerID: layerID,
	})
}

func (s *Session) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func validatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrPromptRequired
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return ErrPromptTooLong
	}
	return nil
}

func validateModel(m types.ModelID) (types.ModelID, error) {
	switch m {
	case "":
		return types.ModelNano, nil
	case types.ModelNano, types.ModelPro:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidModel, m)
	}
}

func validDimension(v int) bool {
	return v >= MinDimension && v <= MaxDimension
}

func shorten(s string) string {
	const limit = 80
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
