package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/asgeir/slickscreen/config"
	"github.com/asgeir/slickscreen/internal/device"
	"github.com/asgeir/slickscreen/internal/recorder"
	"github.com/asgeir/slickscreen/internal/util"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type FileCaptureOptions struct {
	OutputFile string
}

func NewFileCaptureCommand() *cobra.Command {
	opts := &FileCaptureOptions{}

	cmd := &cobra.Command{
		Use:   "file-capture",
		Short: "Record the screen and system audio to a file",
		Long: `Record the primary display (or capture.display) together with the system audio output.
Recording runs until interrupted with Ctrl+C. The container is chosen by the file extension: .mkv, .ts or .mp4.`,
		Example: `  slick file-capture
  slick file-capture -o demo.mkv
  slick file-capture --output-file stream.ts`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return ExecuteFileCapture(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputFile, "output-file", "o", "", "Output file (default <recording.output_dir>/slick-<timestamp>.mkv)")

	return cmd
}

// recording is the part of *recorder.Recorder the command drives.
type recording interface {
	Display() device.Display
	SessionID() string
	Elapsed() time.Duration
	Stop() error
}

// startRecording is swapped out in tests.
var startRecording = func(cfg recorder.Config, env recorder.Environment) (recording, error) {
	rec, err := recorder.New(cfg, env)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// defaultOutputFile names a recording after its start time.
func defaultOutputFile(dir string, now time.Time) string {
	return filepath.Join(dir, now.Format("slick-2006-01-02_15-04-05")+".mkv")
}

func ExecuteFileCapture(ctx context.Context, out io.Writer, opts *FileCaptureOptions) error {
	logger := util.GetLogger()

	path := opts.OutputFile
	if path == "" {
		path = defaultOutputFile(config.GetOutputDir(), time.Now())
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	env := recorder.DefaultEnvironment(recorder.EnvironmentOptions{
		FFmpegPath:       config.GetFFmpegPath(),
		DisplayIndex:     config.GetDisplay(),
		ScreenInput:      config.GetScreenInput(),
		AudioInputFormat: config.GetAudioFormat(),
		AudioDevice:      config.GetAudioDevice(),
		Logger:           logger,
	})
	rec, err := startRecording(recorder.Config{
		OutputFile:    path,
		QueueCapacity: config.GetQueueCapacity(),
		FrameInterval: config.GetFrameInterval(),
		Logger:        logger,
	}, env)
	if err != nil {
		return errors.Wrap(err, "failed to start recording")
	}

	d := rec.Display()
	fmt.Fprintf(out, "Recording %s (%dx%d) to %s\n", color.CyanString(d.Name), d.Width, d.Height, color.CyanString(path))
	color.New(color.Faint).Fprintf(out, "Session %s\n", rec.SessionID())
	fmt.Fprintf(out, "(Press %s to stop.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))

	var sp *spinner.Spinner
	// no spinner while debug logs share the terminal
	if f, ok := out.(*os.File); ok && !util.IsVerbose() && term.IsTerminal(int(f.Fd())) {
		sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(f))
		sp.Prefix = "  "
		sp.Start()
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-ticker.C:
			if sp != nil {
				sp.Lock()
				sp.Suffix = " " + progress(rec.Elapsed(), path)
				sp.Unlock()
			}
		}
	}
	if sp != nil {
		sp.Stop()
	}

	fmt.Fprintln(out, "Stopping...")
	// Runtime failures are reported; only setup failures fail the command.
	if err := rec.Stop(); err != nil {
		logger.Warn("Recording stopped with errors", "error", err)
		fmt.Fprintf(out, "%s Recording finished with errors: %v\n", color.YellowString("!"), err)
		return nil
	}

	fmt.Fprintf(out, "%s Saved %s (%s)\n", color.GreenString("✓"), path, progress(rec.Elapsed(), path))
	return nil
}

func progress(elapsed time.Duration, path string) string {
	size := int64(0)
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	return fmt.Sprintf("%s, %s", elapsed.Truncate(time.Second), formatSize(size))
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
