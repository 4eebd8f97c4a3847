package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/MeKo-Tech/layerstudio/internal/layerpack"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <pack>",
	Short: "List the layers of a layer pack",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().String("extract", "", "Write every layer raster as PNG into this directory")

	if err := viper.BindPFlag("inspect.extract", inspectCmd.Flags().Lookup("extract")); err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	r, err := layerpack.OpenReader(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		return err
	}
	entries, err := r.Layers()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (format %s): %dx%d, %d layers, created %s\n",
		meta.Name, meta.Version, meta.Width, meta.Height, len(entries), humanize.Time(meta.CreatedAt))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tKIND\tVISIBLE\tSIZE\tBYTES\tBBOX\tSELECTED")
	for _, e := range entries {
		data, err := r.RasterPNG(e.ID)
		if err != nil {
			return err
		}

		bbox := "-"
		if e.BoundingBox != nil {
			bbox = e.BoundingBox.String()
		}
		selected := ""
		if e.ID == meta.SelectedID {
			selected = "*"
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%dx%d\t%s\t%s\t%s\n",
			e.Position, e.Name, e.Kind, e.Visible, e.Width, e.Height,
			humanize.IBytes(uint64(len(data))), bbox, selected)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	dir := viper.GetString("inspect.extract")
	if dir == "" {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, e := range entries {
		data, err := r.RasterPNG(e.ID)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%02d_%s.png", e.Position, e.ID))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	logger.Info("Layers extracted", "dir", dir)
	return nil
}
