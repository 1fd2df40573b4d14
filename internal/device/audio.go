package device

import (
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

// AudioFormat describes the PCM stream delivered by an AudioSource.
type AudioFormat struct {
	SampleRate  int
	Channels    int
	ChunkFrames int
}

// DefaultAudioFormat is 48kHz stereo s16 in 10ms chunks.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: media.SampleRate, Channels: media.Channels, ChunkFrames: media.ChunkFrames}
}

// ChunkBytes is the size of one callback payload.
func (f AudioFormat) ChunkBytes() int {
	return f.ChunkFrames * f.Channels * media.BytesPerSample
}

// AudioSource captures what the system is playing. The callback passed to
// Start runs on the source's own goroutine, once per chunk, and must not
// block. The slice is only valid for the duration of the call.
type AudioSource interface {
	Start(onChunk func(samples []byte)) error
	Close() error
}

// AudioOptions configures the ffmpeg system audio grabber.
type AudioOptions struct {
	FFmpegPath string
	// InputFormat and Device override the platform defaults, e.g.
	// "pulse" and "@DEFAULT_MONITOR@".
	InputFormat string
	Device      string
	Format      AudioFormat
	Logger      *slog.Logger
}

// DefaultAudioInput returns the ffmpeg input format and device that
// capture the default output on goos.
func DefaultAudioInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=virtual-audio-capturer"
	default:
		return "pulse", "@DEFAULT_MONITOR@"
	}
}

type ffmpegAudio struct {
	opts   AudioOptions
	cmd    *exec.Cmd
	stdout io.ReadCloser
	logger *slog.Logger
	done   chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// OpenAudio prepares a system audio capture. Capture begins on Start.
func OpenAudio(opts AudioOptions) (AudioSource, error) {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Format == (AudioFormat{}) {
		opts.Format = DefaultAudioFormat()
	}
	defFormat, defDevice := DefaultAudioInput(runtime.GOOS)
	if opts.InputFormat == "" {
		opts.InputFormat = defFormat
	}
	if opts.Device == "" {
		opts.Device = defDevice
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if _, err := exec.LookPath(opts.FFmpegPath); err != nil {
		return nil, errors.Wrapf(err, "ffmpeg not found at %q", opts.FFmpegPath)
	}

	return &ffmpegAudio{
		opts:   opts,
		logger: opts.Logger.With("component", "audio_capture", "device", opts.Device),
		done:   make(chan struct{}),
	}, nil
}

func (a *ffmpegAudio) args() []string {
	f := a.opts.Format
	return []string{
		"-nostats", "-hide_banner", "-loglevel", "warning",
		"-f", a.opts.InputFormat,
		"-i", a.opts.Device,
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}
}

func (a *ffmpegAudio) Start(onChunk func(samples []byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("audio source closed")
	}
	if a.started {
		return errors.New("audio source already started")
	}

	cmd := exec.Command(a.opts.FFmpegPath, a.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to create audio pipe")
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start audio capture")
	}
	a.cmd, a.stdout, a.started = cmd, stdout, true

	go func() {
		defer close(a.done)
		if err := deliverChunks(stdout, a.opts.Format.ChunkBytes(), onChunk); err != nil {
			a.logger.Warn("Audio capture stopped", "error", err)
		}
	}()
	return nil
}

// deliverChunks reads fixed-size chunks from r and hands each to onChunk
// until r ends.
func deliverChunks(r io.Reader, size int, onChunk func([]byte)) error {
	buf := make([]byte, size)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		onChunk(buf)
	}
}

func (a *ffmpegAudio) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	a.mu.Unlock()

	if !started {
		return nil
	}
	a.cmd.Process.Signal(os.Interrupt)
	select {
	case <-a.done:
	case <-time.After(3 * time.Second):
		a.cmd.Process.Kill()
		<-a.done
	}
	a.cmd.Wait()
	return nil
}
