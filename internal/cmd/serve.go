package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the layer API for one editing session",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("static-dir", "", "Directory with a web UI to serve at /")
	serveCmd.Flags().Int64("max-upload", server.DefaultMaxUploadBytes, "Maximum source upload size in bytes")
	serveCmd.Flags().Int("segment-workers", 4, "Parallel mask compositing workers")
	serveCmd.Flags().Float32("feather", 0, "Gaussian feathering of segment edges (sigma, 0 disables)")
	serveCmd.Flags().Bool("embed-assets", true, "Inline segmentation masks as data URLs")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.static_dir", "static-dir")
	mustBind("serve.max_upload", "max-upload")
	mustBind("serve.segment_workers", "segment-workers")
	mustBind("serve.feather", "feather")
	mustBind("serve.embed_assets", "embed-assets")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	staticDir := viper.GetString("serve.static_dir")

	tracker := server.NewTracker()
	sess, client := newSession(sessionOptions{
		onProgress:  tracker.Progress,
		workers:     viper.GetInt("serve.segment_workers"),
		feather:     float32(viper.GetFloat64("serve.feather")),
		embedAssets: viper.GetBool("serve.embed_assets"),
	})

	if !client.Configured() {
		logger.Warn("FAL_API_KEY not set: edit, generate and segment requests will fail")
	}

	api := server.New(server.Config{
		Session:        sess,
		Tracker:        tracker,
		Logger:         logger,
		StaticDir:      staticDir,
		MaxUploadBytes: viper.GetInt64("serve.max_upload"),
	})

	logger.Info("layer server listening",
		"addr", addr,
		"static_dir", staticDir,
		"api_configured", client.Configured(),
	)

	srv := &http.Server{Addr: addr, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Received interrupt signal, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
