package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PhotoBooth/internal/artifact"
	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
	"github.com/bryanchriswhite/PhotoBooth/internal/strip"
)

var composeCmd = &cobra.Command{
	Use:   "compose IMAGE...",
	Short: "Build a photo strip from image files",
	Long: `Run 3, 4 or 6 existing images through the photo pipeline (square crop,
mirror and filter) and compose them into a strip.`,
	Example: `  # Strip from three images
  photobooth compose a.jpg b.jpg c.jpg

  # Black & white 2x2 strip written to ./out
  photobooth compose --filter grayscale --output-dir out *.png`,
	Args: cobra.RangeArgs(3, 6),
	RunE: runCompose,
}

var composeFilter string

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().StringVar(&composeFilter, "filter", "none", "filter name (see 'photobooth filters')")
}

func runCompose(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !strip.ValidCount(len(args)) {
		return fmt.Errorf("a strip needs 3, 4 or 6 images, got %d", len(args))
	}

	k, err := filter.ParseKind(composeFilter)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	now := time.Now()
	photos := make([]filter.Photo, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		photo, err := filter.Apply(frame.FromBytes(data, filepath.Base(path), now), k)
		if err != nil {
			return fmt.Errorf("failed to process %s: %w", path, err)
		}
		photos = append(photos, photo)
	}

	st, err := strip.NewCompositor(loc).Compose(photos, len(photos), now)
	if err != nil {
		return err
	}

	saver := artifact.NewDirSaver(cfg.Artifacts.OutputDir)
	path, err := saver.Save(st.Data, artifact.StripFilename(1, false, now))
	if err != nil {
		return err
	}

	fmt.Printf("✅ %s strip (%dx%d, %s) saved to %s\n", k.Label(), st.Width, st.Height, k, path)
	return nil
}
