package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/session"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run one capture headlessly",
	Long: `Run a single capture run without the HTTP server and save the resulting
photos, strips and video to the output directory.`,
	Example: `  # Three photo strip with the configured defaults
  photobooth capture

  # Six vintage photos
  photobooth capture --photos 6 --filter vintage

  # Three sessions rendered to a video
  photobooth capture --mode multi --sessions 3`,
	RunE: runCapture,
}

var (
	capturePhotos   int
	captureFilter   string
	captureMode     string
	captureSessions int
	captureTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().IntVarP(&capturePhotos, "photos", "n", 0, "photos per session (3, 4 or 6)")
	captureCmd.Flags().StringVar(&captureFilter, "filter", "", "filter name (see 'photobooth filters')")
	captureCmd.Flags().StringVarP(&captureMode, "mode", "m", "", "single or multi")
	captureCmd.Flags().IntVar(&captureSessions, "sessions", 0, "sessions in multi mode")
	captureCmd.Flags().DurationVar(&captureTimeout, "timeout", 5*time.Minute, "give up after this long")
}

func captureConfig(defaults session.Config) (session.Config, error) {
	cfg := defaults
	if capturePhotos != 0 {
		cfg.PhotoCount = capturePhotos
	}
	if captureFilter != "" {
		k, err := filter.ParseKind(captureFilter)
		if err != nil {
			return cfg, err
		}
		cfg.Filter = k
	}
	if captureMode != "" {
		mode, err := session.ParseMode(captureMode)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = mode
	}
	if captureSessions != 0 {
		cfg.Sessions = captureSessions
	}
	return cfg, cfg.Validate()
}

func runCapture(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	b, err := newBooth(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize booth: %w", err)
	}
	defer b.close()

	runCfg, err := captureConfig(b.ctrl.Defaults())
	if err != nil {
		return err
	}

	ended := make(chan session.Event, 1)
	b.ctrl.Subscribe(session.ObserverFunc(func(ev session.Event) {
		switch ev.Type {
		case session.EventCountdown:
			fmt.Printf("  %d...\n", ev.Countdown)
		case session.EventPhoto:
			fmt.Printf("📷 Session %d photo %d\n", ev.Session, ev.Photo)
		case session.EventStrip:
			fmt.Printf("🎞️  Session %d strip ready\n", ev.Session)
		case session.EventVideo:
			fmt.Println("🎬 Video ready")
		case session.EventError:
			fmt.Printf("❌ %s\n", ev.Error)
		}
		if ev.Ends() {
			select {
			case ended <- ev:
			default:
			}
		}
	}))

	runID, err := b.ctrl.Start(runCfg)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var last session.Event
	select {
	case last = <-ended:
	case <-sigChan:
		b.ctrl.Reset()
		return fmt.Errorf("capture interrupted")
	case <-time.After(captureTimeout):
		b.ctrl.Reset()
		return fmt.Errorf("capture did not finish within %v", captureTimeout)
	}

	items := b.artifacts.Run(runID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nKIND\tSIZE\tFILE")
	fmt.Fprintln(w, "----\t----\t----")
	for _, a := range items {
		path := a.SavedAs
		if path == "" {
			path, err = b.saver.Save(a.Data, a.Filename)
			if err != nil {
				return fmt.Errorf("failed to save %s: %w", a.Filename, err)
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", a.Kind, a.Size, path)
	}
	w.Flush()

	if last.Type == session.EventError {
		return fmt.Errorf("capture run failed: %s", last.Error)
	}
	return nil
}
