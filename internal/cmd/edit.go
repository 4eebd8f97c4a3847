package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MeKo-Tech/layerstudio/internal/layer"
	"github.com/MeKo-Tech/layerstudio/internal/session"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit an image with a text prompt",
	RunE:  runEdit,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an image from a text prompt",
	RunE:  runGenerate,
}

func init() {
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(generateCmd)

	editCmd.Flags().String("image", "", "Image to edit (path or URL)")
	editCmd.Flags().StringP("prompt", "p", "", "Edit instruction")
	editCmd.Flags().String("model", "nano", "Model tier (nano, pro)")
	editCmd.Flags().StringP("output", "o", "edited.png", "Output PNG path")

	generateCmd.Flags().StringP("prompt", "p", "", "Image description")
	generateCmd.Flags().String("negative-prompt", "", "What to avoid")
	generateCmd.Flags().String("model", "nano", "Model tier (nano, pro)")
	generateCmd.Flags().Int("width", session.DefaultDimension, "Image width (256-2048)")
	generateCmd.Flags().Int("height", session.DefaultDimension, "Image height (256-2048)")
	generateCmd.Flags().Int64("seed", 0, "Seed for reproducible output (0: random)")
	generateCmd.Flags().StringP("output", "o", "generated.png", "Output PNG path")

	mustBind := func(c *cobra.Command, key, name string) {
		if err := viper.BindPFlag(key, c.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind(editCmd, "edit.image", "image")
	mustBind(editCmd, "edit.prompt", "prompt")
	mustBind(editCmd, "edit.model", "model")
	mustBind(editCmd, "edit.output", "output")

	mustBind(generateCmd, "generate.prompt", "prompt")
	mustBind(generateCmd, "generate.negative_prompt", "negative-prompt")
	mustBind(generateCmd, "generate.model", "model")
	mustBind(generateCmd, "generate.width", "width")
	mustBind(generateCmd, "generate.height", "height")
	mustBind(generateCmd, "generate.seed", "seed")
	mustBind(generateCmd, "generate.output", "output")
}

func runEdit(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	imageRef := viper.GetString("edit.image")
	if imageRef == "" {
		return fmt.Errorf("--image is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	img, err := loadImage(ctx, imageRef)
	if err != nil {
		return err
	}

	sess, _ := newSession(sessionOptions{})
	if _, err := sess.ImportSource(img, filepath.Base(imageRef)); err != nil {
		return err
	}

	l, err := sess.Edit(ctx, types.EditRequest{
		Prompt: viper.GetString("edit.prompt"),
		Model:  types.ModelID(viper.GetString("edit.model")),
	})
	if err != nil {
		return err
	}

	return writeLayer(l, viper.GetString("edit.output"))
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := types.GenerateRequest{
		Prompt:         viper.GetString("generate.prompt"),
		NegativePrompt: viper.GetString("generate.negative_prompt"),
		Model:          types.ModelID(viper.GetString("generate.model")),
		Width:          viper.GetInt("generate.width"),
		Height:         viper.GetInt("generate.height"),
	}
	if seed := viper.GetInt64("generate.seed"); seed != 0 {
		req.Seed = &seed
	}

	sess, _ := newSession(sessionOptions{})
	l, err := sess.Generate(ctx, req)
	if err != nil {
		return err
	}

	return writeLayer(l, viper.GetString("generate.output"))
}

func writeLayer(l layer.Layer, path string) error {
	if err := writePNG(path, l.Raster, "default"); err != nil {
		return err
	}
	size := l.Size()
	logger.Info("Image written", "layer", l.Name, "path", path, "width", size.X, "height", size.Y)
	return nil
}
