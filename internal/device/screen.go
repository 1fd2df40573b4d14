package device

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/asgeir/slickscreen/internal/media"
	"github.com/pkg/errors"
)

// ErrNotReady is returned by Frame when no new frame has arrived since the
// previous call.
var ErrNotReady = errors.New("capture: frame not ready")

// ScreenCapturer yields BGRA frames of one display.
type ScreenCapturer interface {
	// Frame returns the most recent frame. The pixel buffer stays valid
	// until the next call to Frame.
	Frame() (media.VideoFrame, error)
	Width() int
	Height() int
	Close() error
}

const bgraBytesPerPixel = 4

// ScreenOptions configures the ffmpeg screen grabber.
type ScreenOptions struct {
	FFmpegPath string
	// Input overrides the platform default grab input (for example ":1.0"
	// on X11 or "Capture screen 1" on macOS).
	Input     string
	FrameRate int
	Logger    *slog.Logger
}

type ffmpegScreen struct {
	display Display
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	logger  *slog.Logger

	frames chan []byte
	free   chan []byte
	done   chan struct{}
	err    error
	held   []byte

	closeOnce sync.Once
}

// OpenScreen starts grabbing display d.
func OpenScreen(d Display, opts ScreenOptions) (ScreenCapturer, error) {
	if d.Width <= 0 || d.Height <= 0 {
		return nil, errors.Errorf("invalid display size %dx%d", d.Width, d.Height)
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 60
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	args := []string{"-nostats", "-hide_banner", "-loglevel", "warning"}
	args = append(args, screenInputArgs(runtime.GOOS, d, opts)...)
	args = append(args,
		"-s", fmt.Sprintf("%dx%d", d.Width, d.Height),
		"-pix_fmt", "bgra",
		"-f", "rawvideo",
		"pipe:1",
	)

	cmd := exec.Command(opts.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create capture pipe")
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start screen capture")
	}

	s := newFrameReader(d, stdout, opts.Logger.With("component", "screen_capture", "display", d.Index))
	s.cmd = cmd
	return s, nil
}

func newFrameReader(d Display, r io.ReadCloser, logger *slog.Logger) *ffmpegScreen {
	s := &ffmpegScreen{
		display: d,
		stdout:  r,
		logger:  logger,
		frames:  make(chan []byte, 1),
		free:    make(chan []byte, 3),
		done:    make(chan struct{}),
	}
	size := d.Width * d.Height * bgraBytesPerPixel
	for i := 0; i < cap(s.free); i++ {
		s.free <- make([]byte, size)
	}
	go s.run()
	return s
}

func (s *ffmpegScreen) run() {
	defer close(s.done)
	for {
		var buf []byte
		select {
		case buf = <-s.free:
		case buf = <-s.frames:
			// the consumer is behind; reuse the stale frame's buffer
		}

		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			s.err = err
			return
		}

		for sent := false; !sent; {
			select {
			case s.frames <- buf:
				sent = true
			case stale := <-s.frames:
				s.free <- stale
			}
		}
	}
}

func (s *ffmpegScreen) Frame() (media.VideoFrame, error) {
	select {
	case buf := <-s.frames:
		if s.held != nil {
			s.free <- s.held
		}
		s.held = buf
		return media.VideoFrame{
			Width:  s.display.Width,
			Height: s.display.Height,
			Stride: s.display.Width * bgraBytesPerPixel,
			Pix:    buf,
		}, nil
	default:
	}

	select {
	case <-s.done:
		if s.err == io.EOF {
			return media.VideoFrame{}, errors.New("screen capture ended")
		}
		return media.VideoFrame{}, errors.Wrap(s.err, "screen capture failed")
	default:
		return media.VideoFrame{}, ErrNotReady
	}
}

func (s *ffmpegScreen) Width() int  { return s.display.Width }
func (s *ffmpegScreen) Height() int { return s.display.Height }

func (s *ffmpegScreen) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			s.cmd.Process.Signal(os.Interrupt)
			select {
			case <-s.done:
			case <-time.After(3 * time.Second):
				s.cmd.Process.Kill()
			}
		}
		s.stdout.Close()
		<-s.done
		if s.cmd != nil {
			s.cmd.Wait()
		}
	})
	return nil
}

func screenInputArgs(goos string, d Display, opts ScreenOptions) []string {
	rate := strconv.Itoa(opts.FrameRate)
	switch goos {
	case "darwin":
		input := opts.Input
		if input == "" {
			input = fmt.Sprintf("Capture screen %d", d.Index)
		}
		return []string{"-f", "avfoundation", "-capture_cursor", "1", "-framerate", rate, "-i", input + ":none"}
	case "windows":
		input := opts.Input
		if input == "" {
			input = "desktop"
		}
		return []string{
			"-f", "gdigrab", "-framerate", rate,
			"-offset_x", strconv.Itoa(d.X), "-offset_y", strconv.Itoa(d.Y),
			"-video_size", fmt.Sprintf("%dx%d", d.Width, d.Height),
			"-i", input,
		}
	default:
		input := opts.Input
		if input == "" {
			input = os.Getenv("DISPLAY")
			if input == "" {
				input = ":0"
			}
		}
		return []string{
			"-f", "x11grab", "-framerate", rate,
			"-video_size", fmt.Sprintf("%dx%d", d.Width, d.Height),
			"-i", fmt.Sprintf("%s+%d,%d", input, d.X, d.Y),
		}
	}
}
