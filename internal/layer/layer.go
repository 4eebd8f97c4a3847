// Package layer holds the editing stack: layer records and the ordered store
// that enforces selection, kind-replacement and segment invalidation rules.
package layer

import (
	"fmt"
	"image"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/google/uuid"
)

// Kind discriminates what a layer represents.
type Kind string

const (
	// KindSource is the imported base photo.
	KindSource Kind = "source"
	// KindAI is a generation or edit result.
	KindAI Kind = "ai"
	// KindEmpty is a placeholder adjustment layer without pixels.
	KindEmpty Kind = "empty"
	// KindSegment is an auto-extracted object cutout.
	KindSegment Kind = "segment"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSource, KindAI, KindEmpty, KindSegment:
		return true
	default:
		return false
	}
}

// ParseKind converts a stored or user-supplied kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown layer kind %q", s)
	}
	return k, nil
}

// SegmentInfo is carried only by segment layers.
type SegmentInfo struct {
	// MaskRef points at the mask asset the preview was built from. The asset is not owned by the layer.
	MaskRef types.Asset `json:"mask_ref"`
	// BoundingBox is nil when the mask had no foreground.
	BoundingBox *types.BoundingBox `json:"bounding_box,omitempty"`
}

// Layer is one entry of the editing stack.
type Layer struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      Kind         `json:"kind"`
	Raster    *image.NRGBA `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	Visible   bool         `json:"visible"`
	Segment   *SegmentInfo `json:"segment,omitempty"`
}

// New creates a visible layer with a fresh id.
func New(kind Kind, name string, raster *image.NRGBA) *Layer {
	return &Layer{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		Raster:    raster,
		CreatedAt: time.Now(),
		Visible:   true,
	}
}

// NewSegment creates a segment layer with its spatial metadata.
func NewSegment(name string, raster *image.NRGBA, maskRef types.Asset, box *types.BoundingBox) *Layer {
	l := New(KindSegment, name, raster)
	l.Segment = &SegmentInfo{MaskRef: maskRef, BoundingBox: box}
	return l
}

// Size returns the raster dimensions, or zero for layers without pixels.
func (l Layer) Size() image.Point {
	if l.Raster == nil {
		return image.Point{}
	}
	return l.Raster.Bounds().Size()
}

// HasRaster reports whether the layer carries pixel data.
func (l Layer) HasRaster() bool {
	return l.Raster != nil
}

func (l Layer) String() string {
	s := l.Size()
	return fmt.Sprintf("%s %q (%s, %dx%d)", l.ID, l.Name, l.Kind, s.X, s.Y)
}
