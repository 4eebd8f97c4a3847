// Package segment turns a segmentation result into segment layers and commits
// them to a layer store in one step.
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/composite"
	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/mask"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/MeKo-Tech/layerstudio/internal/worker"
)

// BackgroundName is the name of the source layer that wraps the segmentation base.
const BackgroundName = "Background"

var (
	// ErrNoBaseRaster is returned when there is nothing to segment against.
	ErrNoBaseRaster = errors.New("no base raster for segmentation")
	// ErrNoSegments reports that a non-empty batch produced no segment layers.
	// The background swap has still been applied.
	ErrNoSegments = errors.New("no segments produced")
	// ErrMissingAsset marks an item without any asset reference.
	ErrMissingAsset = errors.New("segment item has no asset reference")
)

// AssetLoader decodes asset references into rasters.
type AssetLoader interface {
	LoadAsset(ctx context.Context, a types.Asset) (*image.NRGBA, error)
}

// Batch is the input of one import.
type Batch struct {
	// Items are either masks or, when Precut is set, finished per-object cutouts.
	Items []types.Asset
	// Masks run parallel to Items and are recorded as mask references only.
	Masks  []types.Asset
	Precut bool
}

// BatchFromResult picks the items of a provider result: segmented images when
// present (with the individual masks as references), the individual masks otherwise.
func BatchFromResult(r types.SegmentationResult) Batch {
	items, precut, masks := r.Items()
	return Batch{Items: items, Precut: precut, Masks: masks}
}

// Config configures a Pipeline.
type Config struct {
	Loader     AssetLoader
	Logger     *slog.Logger
	OnProgress worker.ProgressFunc
	// Workers bounds how many items are decoded and composited at once (default: 4)
	Workers int
	// FeatherSigma softens composited mask edges (default: 0, exact mask alpha)
	FeatherSigma float32
}

// Pipeline builds segment layers from segmentation batches.
type Pipeline struct {
	loader       AssetLoader
	logger       *slog.Logger
	pool         *worker.Pool
	featherSigma float32
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pipeline{
		loader:       cfg.Loader,
		logger:       cfg.Logger,
		pool:         worker.New(worker.Config{Workers: cfg.Workers, OnProgress: cfg.OnProgress}),
		featherSigma: cfg.FeatherSigma,
	}
}

// Result summarises a committed import.
type Result struct {
	// Failed maps item index to the reason it was dropped.
	Failed map[int]error
	// BackgroundID is the id of the Background layer, empty for an empty batch.
	BackgroundID string
	// LayerIDs are the committed segment layers in item order.
	LayerIDs []string
	// Built lists the item indices that produced a layer.
	Built []int
	Total int
}

// Prepared holds fully built segment layers that have not been committed yet.
type Prepared struct {
	base   *image.NRGBA
	logger *slog.Logger
	layers []*layer.Layer
	built  []int
	failed map[int]error
	total  int
}

// Import prepares batch against base and commits it to store.
func (p *Pipeline) Import(ctx context.Context, store *layer.Store, base *image.NRGBA, batch Batch) (Result, error) {
	prep, err := p.Prepare(ctx, base, batch)
	if err != nil {
		return Result{}, err
	}
	return prep.Commit(store)
}

// Prepare decodes and composites every item on the worker pool without touching
// any store. Item failures are logged and recorded; they never abort the batch.
// A cancelled ctx aborts the whole batch.
func (p *Pipeline) Prepare(ctx context.Context, base *image.NRGBA, batch Batch) (*Prepared, error) {
	if base == nil || base.Bounds().Empty() {
		return nil, ErrNoBaseRaster
	}

	prep := &Prepared{
		base:   base,
		logger: p.log(),
		failed: make(map[int]error),
		total:  len(batch.Items),
	}
	if len(batch.Items) == 0 {
		return prep, nil
	}

	start := time.Now()
	p.log().Info("Building segment layers",
		"items", len(batch.Items),
		"precut", batch.Precut,
		"masks", len(batch.Masks),
	)

	results := worker.Run(ctx, p.pool, len(batch.Items), func(ctx context.Context, i int) (*layer.Layer, error) {
		return p.build(ctx, base, batch, i)
	})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("segmentation import aborted: %w", err)
	}

	for _, r := range results {
		if r.Err != nil {
			prep.failed[r.Index] = r.Err
			p.log().Warn("Skipping segment", "index", r.Index, "error", r.Err)
			continue
		}
		prep.layers = append(prep.layers, r.Value)
		prep.built = append(prep.built, r.Index)
	}

	p.log().Info("Built segment layers",
		"built", len(prep.layers),
		"failed", len(prep.failed),
		"elapsed", time.Since(start),
	)
	return prep, nil
}

func (p *Pipeline) build(ctx context.Context, base *image.NRGBA, batch Batch, i int) (*layer.Layer, error) {
	item := batch.Items[i]
	if item.IsZero() {
		return nil, ErrMissingAsset
	}

	img, err := p.loader.LoadAsset(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to load segment %d: %w", i+1, err)
	}

	var (
		preview *image.NRGBA
		box     *types.BoundingBox
	)
	if batch.Precut {
		preview = img
		box = mask.ExtractBoundingBox(img)
	} else {
		var det mask.Detection
		preview, det, err = composite.ComposeMasked(base, img, composite.MaskOptions{FeatherSigma: p.featherSigma})
		if err != nil {
			return nil, fmt.Errorf("failed to composite segment %d: %w", i+1, err)
		}
		box = mask.ExtractBoundingBox(img)

		stats := composite.MeasureAlpha(preview)
		p.log().Debug("Composited segment",
			"index", i,
			"encoding", det.Encoding(),
			"alpha_variation", det.HasAlphaVariation,
			"rgb_variation", det.HasRGBVariation,
			"opaque", stats.Opaque,
			"semi_transparent", stats.SemiTransparent,
			"coverage", fmt.Sprintf("%.1f%%", stats.Coverage()*100),
		)
	}

	ref := item
	if i < len(batch.Masks) && !batch.Masks[i].IsZero() {
		ref = batch.Masks[i]
	}

	return layer.NewSegment(fmt.Sprintf("Segment %d", i+1), preview, ref, box), nil
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// Len returns how many segment layers are ready to commit.
func (pr *Prepared) Len() int {
	return len(pr.layers)
}

// Commit applies the prepared batch to store in a single step:
// existing segments are purged, the source layer is replaced by a Background
// layer wrapping the base (selection unchanged), and the new segments are
// prepended as one group with the first of them selected.
// An empty batch only purges segments. A batch where every item failed keeps
// the background swap and returns ErrNoSegments.
func (pr *Prepared) Commit(store *layer.Store) (Result, error) {
	res := Result{Total: pr.total, Failed: pr.failed, Built: pr.built}

	removed := store.RemoveKind(layer.KindSegment)
	if pr.total == 0 {
		pr.logger.Info("Cleared segment layers", "removed", removed)
		return res, nil
	}

	bg := layer.New(layer.KindSource, BackgroundName, pr.base)
	if err := store.Insert(bg, layer.InsertOptions{ReplaceKind: layer.KindSource}); err != nil {
		return res, fmt.Errorf("failed to insert background: %w", err)
	}
	res.BackgroundID = bg.ID

	if len(pr.layers) == 0 {
		return res, ErrNoSegments
	}

	if err := store.InsertBatch(pr.layers); err != nil {
		return res, fmt.Errorf("failed to commit segments: %w", err)
	}
	for _, l := range pr.layers {
		res.LayerIDs = append(res.LayerIDs, l.ID)
	}

	pr.logger.Info("Committed segment layers",
		"segments", len(pr.layers),
		"replaced", removed,
		"background", bg.ID,
	)
	return res, nil
}
