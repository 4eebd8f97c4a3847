package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/layerstudio/internal/crop"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cropCmd = &cobra.Command{
	Use:   "crop",
	Short: "Crop an image to a pixel rectangle",
	RunE:  runCrop,
}

func init() {
	rootCmd.AddCommand(cropCmd)

	cropCmd.Flags().String("image", "", "Image to crop (path or URL)")
	cropCmd.Flags().String("rect", "", "Crop rectangle: x,y,width,height or WxH+X+Y (e.g. \"10,20,300,200\")")
	cropCmd.Flags().StringP("output", "o", "cropped.png", "Output PNG path")
	cropCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"crop.image", "image"},
		{"crop.rect", "rect"},
		{"crop.output", "output"},
		{"crop.png_compression", "png-compression"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, cropCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runCrop(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	imageRef := viper.GetString("crop.image")
	output := viper.GetString("crop.output")
	if imageRef == "" {
		return fmt.Errorf("--image is required")
	}

	rect, err := parseRect(viper.GetString("crop.rect"))
	if err != nil {
		return fmt.Errorf("invalid rect: %w", err)
	}

	img, err := loadImage(context.Background(), imageRef)
	if err != nil {
		return err
	}

	out, err := crop.Crop(img, rect)
	if err != nil {
		return err
	}

	if err := writePNG(output, out, viper.GetString("crop.png_compression")); err != nil {
		return err
	}

	logger.Info("Cropped image", "rect", rect.String(), "output", output)
	return nil
}

// parseRect accepts "x,y,width,height" or the geometry form "WxH+X+Y".
func parseRect(s string) (types.PixelRect, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.PixelRect{}, fmt.Errorf("empty rectangle")
	}

	var vals [4]int
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 4 {
			return types.PixelRect{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
		}
		for i, part := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return types.PixelRect{}, fmt.Errorf("invalid number at position %d: %w", i, err)
			}
			vals[i] = v
		}
	} else {
		var w, h, x, y int
		n, err := fmt.Sscanf(s, "%dx%d+%d+%d", &w, &h, &x, &y)
		if err != nil || n != 4 {
			return types.PixelRect{}, fmt.Errorf("expected WxH+X+Y, got %q", s)
		}
		vals = [4]int{x, y, w, h}
	}

	r := types.PixelRect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	if r.X < 0 || r.Y < 0 {
		return types.PixelRect{}, fmt.Errorf("offset (%d,%d) must be non-negative", r.X, r.Y)
	}
	if r.Empty() {
		return types.PixelRect{}, fmt.Errorf("width and height must be positive, got %dx%d", r.Width, r.Height)
	}
	return r, nil
}
