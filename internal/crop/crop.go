// Package crop cuts rasters to a pixel rectangle and writes the result back
// into the layer stack, invalidating segments derived from the replaced base.
package crop

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/raster"
	"github.com/MeKo-Tech/layerstudio/internal/types"
)

var (
	// ErrInvalidRect is returned for rectangles without area.
	ErrInvalidRect = errors.New("crop rectangle must have positive width and height")
	// ErrNoTarget is returned when no layer can be cropped.
	ErrNoTarget = errors.New("no crop target")
	// ErrCropRejected is returned for targets whose kind cannot be cropped.
	ErrCropRejected = errors.New("crop rejected for layer kind")
)

// Crop extracts rect from src into a new raster of exactly rect's size.
// Parts of rect outside src are transparent.
func Crop(src image.Image, rect types.PixelRect) (*image.NRGBA, error) {
	if src == nil {
		return nil, fmt.Errorf("nothing to crop: %w", ErrNoTarget)
	}
	if rect.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRect, rect)
	}
	r := rect.Rect().Add(src.Bounds().Min)
	return raster.CopyRect(src, r), nil
}

// Target picks the layer a crop applies to: the selected layer unless it is a
// segment, then the most recent ai layer, then the source layer.
func Target(store *layer.Store) (layer.Layer, error) {
	if sel, ok := store.Selected(); ok && sel.Kind != layer.KindSegment {
		return sel, nil
	}
	if l, ok := store.Latest(layer.KindAI); ok {
		return l, nil
	}
	if l, ok := store.Latest(layer.KindSource); ok {
		return l, nil
	}
	return layer.Layer{}, ErrNoTarget
}

// Outcome describes an applied crop.
type Outcome struct {
	TargetID       string
	Size           image.Point
	PurgedSegments int
}

// Apply replaces the raster of targetID with cropped and selects it. Cropping a
// source or ai layer invalidates every segment layer, which are removed.
// Other kinds are rejected without changing the store.
func Apply(store *layer.Store, targetID string, cropped *image.NRGBA) (Outcome, error) {
	target, ok := store.Get(targetID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %w", ErrNoTarget, layer.ErrLayerNotFound)
	}

	switch target.Kind {
	case layer.KindSource, layer.KindAI:
	default:
		return Outcome{}, fmt.Errorf("%w: %q is %q", ErrCropRejected, target.Name, kindName(target.Kind))
	}
	if cropped == nil {
		return Outcome{}, fmt.Errorf("%w: empty raster", ErrInvalidRect)
	}

	if err := store.ReplaceRaster(targetID, cropped); err != nil {
		return Outcome{}, err
	}
	purged := store.RemoveKind(layer.KindSegment)
	if err := store.Select(targetID); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		TargetID:       targetID,
		Size:           cropped.Bounds().Size(),
		PurgedSegments: purged,
	}, nil
}

// Run chooses the target, crops its raster and applies the result.
func Run(store *layer.Store, rect types.PixelRect) (Outcome, error) {
	target, err := Target(store)
	if err != nil {
		return Outcome{}, err
	}
	if target.Raster == nil {
		return Outcome{}, fmt.Errorf("%w: %q has no pixels", ErrCropRejected, target.Name)
	}

	cropped, err := Crop(target.Raster, rect)
	if err != nil {
		return Outcome{}, err
	}
	return Apply(store, target.ID, cropped)
}

func kindName(k layer.Kind) string {
	if k == "" {
		return "unknown"
	}
	return string(k)
}
