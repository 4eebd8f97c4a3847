package cmd

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/layerstudio/internal/layer"
)

func writeTestImage(t *testing.T, path string, w, h int, paint func(x, y int) color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, paint(x, y))
		}
	}
	if err := writePNG(path, img, "speed"); err != nil {
		t.Fatalf("writePNG(%s) failed: %v", path, err)
	}
}

func TestLocalMasksProduceSegmentFiles(t *testing.T) {
	initLogging()
	dir := t.TempDir()

	basePath := filepath.Join(dir, "base.png")
	writeTestImage(t, basePath, 16, 8, func(x, y int) color.NRGBA {
		return color.NRGBA{R: 200, G: 40, B: 40, A: 255}
	})

	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black := color.NRGBA{A: 255}
	leftPath := filepath.Join(dir, "left.png")
	writeTestImage(t, leftPath, 8, 4, func(x, y int) color.NRGBA {
		if x < 4 {
			return white
		}
		return black
	})
	rightPath := filepath.Join(dir, "right.png")
	writeTestImage(t, rightPath, 8, 4, func(x, y int) color.NRGBA {
		if x >= 4 {
			return white
		}
		return black
	})

	ctx := context.Background()
	base, err := loadImage(ctx, basePath)
	if err != nil {
		t.Fatalf("loadImage failed: %v", err)
	}

	sess, client := newSession(sessionOptions{
		segmenter:  newLocalSegmenter([]string{leftPath, filepath.Join(dir, "missing.png"), rightPath}),
		workers:    2,
		localFiles: true,
	})
	if client == nil {
		t.Fatal("expected a fal client even without credentials")
	}

	if _, err := sess.ImportSource(base, "base.png"); err != nil {
		t.Fatalf("ImportSource failed: %v", err)
	}
	res, err := sess.AutoSegment(ctx)
	if err != nil {
		t.Fatalf("AutoSegment failed: %v", err)
	}
	if len(res.LayerIDs) != 2 || len(res.Failed) != 1 {
		t.Fatalf("expected 2 segments and 1 failure, got %d and %d", len(res.LayerIDs), len(res.Failed))
	}

	names := []string{}
	for _, l := range sess.Layers() {
		if l.Kind == layer.KindSegment {
			names = append(names, l.Name)
		}
	}
	if len(names) != 2 || names[0] != "Segment 1" || names[1] != "Segment 3" {
		t.Errorf("unexpected segment names %v", names)
	}

	outDir := filepath.Join(dir, "segments")
	if err := writeSegments(sess, outDir, "default"); err != nil {
		t.Fatalf("writeSegments failed: %v", err)
	}
	for _, name := range []string{"segment_01.png", "segment_02.png"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	first, err := loadImage(ctx, filepath.Join(outDir, "segment_01.png"))
	if err != nil {
		t.Fatalf("loadImage failed: %v", err)
	}
	if first.Bounds().Size() != image.Pt(16, 8) {
		t.Errorf("segment size = %v, want base size", first.Bounds().Size())
	}
	if a := first.NRGBAAt(1, 1).A; a != 255 {
		t.Errorf("left segment should keep the left half, alpha = %d", a)
	}
	if a := first.NRGBAAt(14, 6).A; a != 0 {
		t.Errorf("left segment should drop the right half, alpha = %d", a)
	}
}
