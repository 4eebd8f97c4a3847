package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/layerstudio/internal/asset"
	"github.com/MeKo-Tech/layerstudio/internal/fal"
	"github.com/MeKo-Tech/layerstudio/internal/raster"
	"github.com/MeKo-Tech/layerstudio/internal/session"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/MeKo-Tech/layerstudio/internal/worker"
	"github.com/spf13/viper"
)

// sessionOptions are the per-command knobs of a session.
type sessionOptions struct {
	segmenter   session.Segmenter
	onProgress  worker.ProgressFunc
	workers     int
	feather     float32
	embedAssets bool
	// localFiles lets segmentation masks name files on disk.
	localFiles bool
}

// newLoader builds an asset loader. Loaders that resolve provider results
// must not read local files.
func newLoader(files bool) *asset.Loader {
	return asset.NewLoader(asset.LoaderConfig{Logger: logger, AllowFiles: files})
}

// newFalClient builds a fal.ai client from the fal.* configuration keys.
func newFalClient(loader *asset.Loader, embed bool) *fal.Client {
	return fal.NewClient(fal.Config{
		Logger:      logger,
		Fetcher:     loader,
		APIKey:      viper.GetString("fal.api_key"),
		BaseURL:     viper.GetString("fal.base_url"),
		Timeout:     viper.GetDuration("fal.timeout"),
		EmbedAssets: embed,
	})
}

// newSession wires a session to fal.ai. A custom segmenter replaces the remote one.
func newSession(opts sessionOptions) (*session.Session, *fal.Client) {
	loader := newLoader(opts.localFiles)
	client := newFalClient(loader, opts.embedAssets)

	seg := opts.segmenter
	if seg == nil {
		seg = client
	}

	return session.New(session.Config{
		Editor:         client,
		Segmenter:      seg,
		Loader:         loader,
		Logger:         logger,
		OnProgress:     opts.onProgress,
		SegmentWorkers: opts.workers,
		FeatherSigma:   opts.feather,
	}), client
}

// localSegmenter answers segmentation requests with masks given on the command line.
type localSegmenter struct {
	masks []types.Asset
}

func newLocalSegmenter(paths []string) *localSegmenter {
	s := &localSegmenter{}
	for _, p := range paths {
		s.masks = append(s.masks, types.Asset{URL: p})
	}
	return s
}

func (s *localSegmenter) Segment(context.Context, image.Image) (types.SegmentationResult, error) {
	return types.SegmentationResult{IndividualMasks: s.masks}, nil
}

// loadImage reads an image reference (path, file:// or http(s) URL, data URL).
func loadImage(ctx context.Context, ref string) (*image.NRGBA, error) {
	img, err := newLoader(true).Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}
	return img, nil
}

// writePNG writes img to path, creating parent directories.
func writePNG(path string, img image.Image, compression string) error {
	level, err := raster.ParseCompression(compression)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := raster.EncodePNG(f, img, level); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
