package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PhotoBooth/internal/api"
	"github.com/bryanchriswhite/PhotoBooth/internal/artifact"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
	"github.com/bryanchriswhite/PhotoBooth/internal/output"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PhotoBooth server",
	Long: `Start the PhotoBooth HTTP server with the live camera preview.

The server provides a REST API for starting capture runs, a WebSocket
event feed, artifact downloads and an MJPEG preview stream.`,
	Example: `  # Start server on default port (8080)
  photobooth serve

  # Start server on custom port
  photobooth serve --port 9090

  # Use a directory of images instead of a camera
  photobooth serve --camera dir --camera-dir ./samples

  # Start with debug logging
  photobooth serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("📸 PhotoBooth - Timed photo strips and strip videos")
	fmt.Println("===================================================")

	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")
	log.Info().Str("path", configMgr.GetConfigPath()).Str("level", cfg.LogLevel).Msg("Configuration loaded")

	preview := output.NewMJPEGOutput(cfg.OutputConfig())
	if err := preview.Start(); err != nil {
		return fmt.Errorf("failed to start preview stream: %w", err)
	}
	defer preview.Stop()

	b, err := newBooth(cfg, preview)
	if err != nil {
		return fmt.Errorf("failed to initialize booth: %w", err)
	}
	defer b.close()
	b.ctrl.StartPreview()

	retention := artifact.NewRetention(b.artifacts, b.saver, cfg.Artifacts.Retention, b.clk)
	if cfg.Artifacts.Retention > 0 {
		if err := retention.Start(cfg.Artifacts.PruneSchedule); err != nil {
			return fmt.Errorf("failed to schedule retention: %w", err)
		}
		defer retention.Stop()
	}

	server := api.NewServer(api.Deps{
		Controller: b.ctrl,
		Artifacts:  b.artifacts,
		Stream:     preview,
		Config:     configMgr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Println()
	log.Info().Msg("✅ PhotoBooth is running!")
	log.Info().Msgf("   - Preview: http://localhost:%d", cfg.ServerPort)
	log.Info().Msgf("   - API: http://localhost:%d/api", cfg.ServerPort)
	log.Info().Msgf("   - Artifacts: %s", cfg.Artifacts.OutputDir)
	log.Info().Msg("   - Press Ctrl+C to stop")
	fmt.Println()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-sigChan:
	}

	fmt.Println()
	log.Info().Msg("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
