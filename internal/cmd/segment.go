package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/raster"
	"github.com/MeKo-Tech/layerstudio/internal/segment"
	"github.com/MeKo-Tech/layerstudio/internal/session"
	"github.com/MeKo-Tech/layerstudio/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var segmentCmd = &cobra.Command{
	Use:   "segment",
	Short: "Split an image into per-object segment layers",
	Long: `Segment runs automatic segmentation on an image (or uses the masks given
with --mask) and builds one cut-out layer per object on top of a Background
layer. The result is written as a layer pack and/or as individual PNGs.`,
	RunE: runSegment,
}

func init() {
	rootCmd.AddCommand(segmentCmd)

	segmentCmd.Flags().String("image", "", "Image to segment (path or URL)")
	segmentCmd.Flags().StringSlice("mask", nil, "Use these masks instead of remote segmentation (repeatable)")
	segmentCmd.Flags().String("pack", "", "Write the resulting stack to this layer pack")
	segmentCmd.Flags().String("segments-dir", "", "Write each segment layer as PNG into this directory")
	segmentCmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: number of CPUs)")
	segmentCmd.Flags().Float32("feather", 0, "Gaussian feathering of segment edges (sigma)")
	segmentCmd.Flags().Bool("progress", true, "Show progress bar while compositing segments")
	segmentCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"segment.image", "image"},
		{"segment.mask", "mask"},
		{"segment.pack", "pack"},
		{"segment.segments_dir", "segments-dir"},
		{"segment.workers", "workers"},
		{"segment.feather", "feather"},
		{"segment.progress", "progress"},
		{"segment.png_compression", "png-compression"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, segmentCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runSegment(cmd *cobra.Command, args []string) error {
	imageRef := viper.GetString("segment.image")
	masks := viper.GetStringSlice("segment.mask")
	packPath := viper.GetString("segment.pack")
	segmentsDir := viper.GetString("segment.segments_dir")
	workers := viper.GetInt("segment.workers")
	showProgress := viper.GetBool("segment.progress")
	compression := viper.GetString("segment.png_compression")

	if logger == nil {
		initLogging()
	}

	if imageRef == "" {
		return fmt.Errorf("--image is required")
	}
	if packPath == "" && segmentsDir == "" {
		return fmt.Errorf("nothing to write: use --pack and/or --segments-dir")
	}
	level, err := raster.ParseCompression(compression)
	if err != nil {
		return err
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base, err := loadImage(ctx, imageRef)
	if err != nil {
		return err
	}

	progress := worker.NewProgress(0, "segments", showProgress)

	opts := sessionOptions{
		onProgress:  progress.Callback(),
		workers:     workers,
		feather:     float32(viper.GetFloat64("segment.feather")),
		embedAssets: packPath != "",
	}
	if len(masks) > 0 {
		opts.segmenter = newLocalSegmenter(masks)
		opts.localFiles = true
	}
	sess, _ := newSession(opts)

	if _, err := sess.ImportSource(base, filepath.Base(imageRef)); err != nil {
		return err
	}

	logger.Info("Starting segmentation",
		"image", imageRef,
		"local_masks", len(masks),
		"workers", workers,
	)

	res, err := sess.AutoSegment(ctx)
	progress.Done()
	if errors.Is(err, session.ErrNotConfigured) {
		return fmt.Errorf("remote segmentation needs FAL_API_KEY (or pass --mask): %w", err)
	}
	if err != nil && !errors.Is(err, segment.ErrNoSegments) {
		return fmt.Errorf("failed to segment: %w", err)
	}

	for i, itemErr := range res.Failed {
		logger.Warn("Segment skipped", "item", i+1, "error", itemErr)
	}
	logger.Info(progress.Summary())

	if segmentsDir != "" {
		if err := writeSegments(sess, segmentsDir, compression); err != nil {
			return err
		}
	}

	if packPath != "" {
		if err := sess.ExportPack(packPath, filepath.Base(imageRef), level); err != nil {
			return err
		}
		logger.Info("Layer pack written", "path", packPath, "layers", len(sess.Layers()))
	}

	return err
}

// writeSegments writes every segment layer as segment_NN.png, in stack order.
func writeSegments(sess *session.Session, dir, compression string) error {
	n := 0
	for _, l := range sess.Layers() {
		if l.Kind != layer.KindSegment || !l.HasRaster() {
			continue
		}
		n++
		path := filepath.Join(dir, fmt.Sprintf("segment_%02d.png", n))
		if err := writePNG(path, l.Raster, compression); err != nil {
			return err
		}
		fields := []any{"layer", l.Name, "path", path}
		if l.Segment != nil && l.Segment.BoundingBox != nil {
			fields = append(fields, "bbox", l.Segment.BoundingBox.String())
		}
		logger.Debug("Segment written", fields...)
	}
	logger.Info("Segments written", "dir", dir, "count", n)
	return nil
}
