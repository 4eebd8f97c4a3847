package layerpack

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/types"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestMetadataToMap(t *testing.T) {
	meta := Metadata{
		Name:       "demo",
		Width:      64,
		Height:     32,
		SelectedID: "abc",
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	m := meta.ToMap()
	if m["name"] != "demo" || m["width"] != "64" || m["height"] != "32" || m["selected"] != "abc" {
		t.Errorf("unexpected map: %v", m)
	}
	if m["version"] != FormatVersion {
		t.Errorf("version = %q, want %q", m["version"], FormatVersion)
	}
	if m["created_at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("created_at = %q", m["created_at"])
	}
	if _, ok := m["description"]; ok {
		t.Error("empty description should be omitted")
	}

	back := metadataFromMap(m)
	if back.Name != meta.Name || back.Width != 64 || back.Height != 32 || !back.CreatedAt.Equal(meta.CreatedAt) {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestExportAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.layers")

	seg := layer.NewSegment("Segment 1", solid(4, 2, color.NRGBA{R: 255, A: 128}),
		types.Asset{DataURL: "data:image/png;base64,AAAA"},
		&types.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40})
	src := layer.New(layer.KindSource, "Source Asset", solid(4, 2, color.NRGBA{B: 255, A: 255}))
	adj := layer.New(layer.KindEmpty, "Adjustment 1", nil)
	adj.Visible = false

	layers := []layer.Layer{*seg, *adj, *src}
	meta := Metadata{Name: "demo", Width: 4, Height: 2, SelectedID: seg.ID}

	if err := Export(path, meta, layers, png.BestSpeed); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	gotMeta, err := r.Metadata()
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if gotMeta.Name != "demo" || gotMeta.SelectedID != seg.ID || gotMeta.Width != 4 {
		t.Errorf("unexpected metadata: %+v", gotMeta)
	}

	entries, err := r.Layers()
	if err != nil {
		t.Fatalf("Layers failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(entries))
	}

	for i, want := range layers {
		if entries[i].ID != want.ID || entries[i].Position != i {
			t.Errorf("entry %d = %s@%d, want %s@%d", i, entries[i].ID, entries[i].Position, want.ID, i)
		}
	}

	first := entries[0]
	if first.Kind != string(layer.KindSegment) || first.Width != 4 || first.Height != 2 {
		t.Errorf("unexpected segment entry: %+v", first)
	}
	if first.MaskRef == nil || first.MaskRef.DataURL != "data:image/png;base64,AAAA" {
		t.Errorf("mask reference not restored: %+v", first.MaskRef)
	}
	if first.BoundingBox == nil || first.BoundingBox.Height != 40 {
		t.Errorf("bounding box not restored: %+v", first.BoundingBox)
	}

	if entries[1].Visible {
		t.Error("hidden layer should stay hidden")
	}
	if entries[1].MaskRef != nil || entries[1].BoundingBox != nil {
		t.Error("adjustment layer should carry no segment data")
	}

	img, err := r.Raster(seg.ID)
	if err != nil {
		t.Fatalf("Raster failed: %v", err)
	}
	if got := img.NRGBAAt(1, 1); got != (color.NRGBA{R: 255, A: 128}) {
		t.Errorf("pixel = %v", got)
	}

	empty, err := r.Raster(adj.ID)
	if err != nil || empty != nil {
		t.Errorf("empty layer raster = %v, %v; want nil, nil", empty, err)
	}

	if _, err := r.Raster("missing"); err == nil {
		t.Error("expected error for unknown layer")
	}
}

func TestExportReplacesPreviousContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.layers")

	a := layer.New(layer.KindSource, "Source Asset", solid(2, 2, color.NRGBA{A: 255}))
	b := layer.New(layer.KindAI, "AI Output 1", solid(2, 2, color.NRGBA{G: 255, A: 255}))

	if err := Export(path, Metadata{Name: "first"}, []layer.Layer{*b, *a}, png.DefaultCompression); err != nil {
		t.Fatalf("first export failed: %v", err)
	}
	if err := Export(path, Metadata{Name: "second"}, []layer.Layer{*a}, png.DefaultCompression); err != nil {
		t.Fatalf("second export failed: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.Name != "second" {
		t.Errorf("name = %q, want second", meta.Name)
	}

	entries, err := r.Layers()
	if err != nil {
		t.Fatalf("Layers failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != a.ID {
		t.Errorf("unexpected entries after re-export: %+v", entries)
	}
}

func TestExportFailureLeavesNoPack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.layers")

	good := layer.New(layer.KindSource, "Source Asset", solid(2, 2, color.NRGBA{A: 255}))
	// A zero-sized raster cannot be encoded as PNG.
	bad := layer.New(layer.KindAI, "AI Output 1", image.NewNRGBA(image.Rect(0, 0, 0, 0)))

	if err := Export(path, Metadata{Name: "broken"}, []layer.Layer{*good, *bad}, png.BestSpeed); err == nil {
		t.Fatal("expected export of an unencodable layer to fail")
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed, stat returned %v", path+suffix, err)
		}
	}
}

func TestWriterBatchesAndFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.layers")

	w, err := New(path, Metadata{Name: "batch"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// More than one batch so both the automatic and the final flush run.
	n := DefaultBatchSize + 3
	for i := 0; i < n; i++ {
		l := layer.New(layer.KindEmpty, "Adjustment", nil)
		e, err := EntryFromLayer(i, *l, png.DefaultCompression)
		if err != nil {
			t.Fatalf("EntryFromLayer failed: %v", err)
		}
		if err := w.WriteLayer(e); err != nil {
			t.Fatalf("WriteLayer failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	entries, err := r.Layers()
	if err != nil {
		t.Fatalf("Layers failed: %v", err)
	}
	if len(entries) != n {
		t.Errorf("expected %d layers, got %d", n, len(entries))
	}
}

func TestOpenReaderRejectsForeignDatabase(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Error("expected error for database without layers table")
	}
}
