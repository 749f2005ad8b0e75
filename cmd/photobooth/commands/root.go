package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/PhotoBooth/internal/config"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "photobooth",
		Short: "PhotoBooth - Timed photo strips and strip videos",
		Long: `PhotoBooth runs a camera booth: a countdown, a burst of filtered square
photos, a printable photo strip and, in multi mode, a short looping video
that cycles through every strip of the run.

Features:
  • Live MJPEG preview with filter and countdown overlay
  • Normal, vintage, black & white and handheld filters
  • 3, 4 or 6 photo strips
  • Multi-session runs rendered to WebM or MP4
  • REST and WebSocket API for booth frontends
  • Automatic saving and retention of artifacts`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/photobooth/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("camera", "", "frame source (pattern, dir, gstreamer, gst-launch)")
	rootCmd.PersistentFlags().String("camera-dir", "", "image directory for the dir source")
	rootCmd.PersistentFlags().String("output-dir", "", "directory artifacts are saved to")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("camera.source", rootCmd.PersistentFlags().Lookup("camera"))
	viper.BindPFlag("camera.dir", rootCmd.PersistentFlags().Lookup("camera-dir"))
	viper.BindPFlag("artifacts.output_dir", rootCmd.PersistentFlags().Lookup("output-dir"))
}

func initConfig() {
	// a missing .env is fine
	godotenv.Load()

	// PHOTOBOOTH_SERVER_PORT, PHOTOBOOTH_CAMERA_SOURCE, ...
	viper.SetEnvPrefix("photobooth")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file, applies flag and environment overrides
// and initializes logging from the result
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := configMgr.ApplyOverrides(viper.GetViper()); err != nil {
		return nil, nil, fmt.Errorf("invalid override: %w", err)
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, cfg, nil
}
