package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "layerstudio",
	Short: "A layer-based image compositing studio",
	Long: `LayerStudio keeps an ordered stack of image layers and builds new layers from
AI edits, text-to-image generation and automatic segmentation.

Segmentation masks are composited onto the base image as per-object layers,
which can be cropped, reordered, soloed and exported as a layer pack.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().String("fal-key", "", "fal.ai API key (also read from FAL_API_KEY)")
	rootCmd.PersistentFlags().String("fal-base-url", "", "fal.ai run API base URL")
	rootCmd.PersistentFlags().Duration("fal-timeout", 0, "Timeout per fal.ai request (default 2m)")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"verbose", "verbose"},
		{"fal.api_key", "fal-key"},
		{"fal.base_url", "fal-base-url"},
		{"fal.timeout", "fal-timeout"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, rootCmd.PersistentFlags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}

	if err := viper.BindEnv("fal.api_key", "LAYERSTUDIO_FAL_API_KEY", "FAL_API_KEY"); err != nil {
		panic(fmt.Sprintf("failed to bind env: %v", err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// fal.base_url is read from LAYERSTUDIO_FAL_BASE_URL
	viper.SetEnvPrefix("LAYERSTUDIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
