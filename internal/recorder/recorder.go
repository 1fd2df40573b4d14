// Package recorder wires the capture pipelines, encoders and the output
// container into one recording session.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/container"
	"github.com/asgeir/slickscreen/internal/device"
	"github.com/asgeir/slickscreen/internal/timeref"
	"github.com/asgeir/slickscreen/internal/worker"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// DefaultFrameInterval paces the video loop at roughly 60 frames per second.
const DefaultFrameInterval = 16666 * time.Microsecond

// ContainerFactory opens the output container for path.
type ContainerFactory func(path string, logger *slog.Logger) (container.Muxer, error)

// Environment is everything the recorder needs from the outside world.
// DefaultEnvironment backs it with ffmpeg and the local displays.
type Environment struct {
	Init            func() error
	Display         func(ctx context.Context) (device.Display, error)
	OpenScreen      func(d device.Display) (device.ScreenCapturer, error)
	OpenAudio       func() (device.AudioSource, error)
	NewAudioEncoder func(params codec.AudioParams) (codec.AudioEncoder, error)
	NewVideoEncoder func(params codec.VideoParams) (codec.VideoEncoder, error)
	DescribeVideo   func(params codec.VideoParams) (codec.Descriptor, error)
	CreateContainer ContainerFactory
}

// EnvironmentOptions selects the devices and binary DefaultEnvironment uses.
type EnvironmentOptions struct {
	FFmpegPath string
	// DisplayIndex picks a display by its listing index. Negative means
	// the primary display.
	DisplayIndex     int
	ScreenInput      string
	AudioInputFormat string
	AudioDevice      string
	Logger           *slog.Logger
}

// DefaultEnvironment returns an Environment that captures and encodes
// through ffmpeg.
func DefaultEnvironment(opts EnvironmentOptions) Environment {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var tc codec.Toolchain

	return Environment{
		Init: func() error {
			var err error
			tc, err = codec.Init(opts.FFmpegPath)
			if err == nil {
				logger.Debug("ffmpeg ready", "path", tc.Path, "video_encoder", tc.VideoEncoder, "audio_encoder", tc.AudioEncoder)
			}
			return err
		},
		Display: func(ctx context.Context) (device.Display, error) {
			if opts.DisplayIndex < 0 {
				return device.PrimaryDisplay(ctx)
			}
			return device.FindDisplay(ctx, opts.DisplayIndex)
		},
		OpenScreen: func(d device.Display) (device.ScreenCapturer, error) {
			return device.OpenScreen(d, device.ScreenOptions{
				FFmpegPath: tc.Path,
				Input:      opts.ScreenInput,
				Logger:     logger,
			})
		},
		OpenAudio: func() (device.AudioSource, error) {
			format, dev := device.DefaultAudioInput(runtime.GOOS)
			if opts.AudioInputFormat != "" {
				format = opts.AudioInputFormat
			}
			if opts.AudioDevice != "" {
				dev = opts.AudioDevice
			}
			return device.OpenAudio(device.AudioOptions{
				FFmpegPath:  tc.Path,
				InputFormat: format,
				Device:      dev,
				Format:      device.DefaultAudioFormat(),
				Logger:      logger,
			})
		},
		NewAudioEncoder: func(params codec.AudioParams) (codec.AudioEncoder, error) {
			return codec.NewAudioEncoder(tc, params, logger)
		},
		NewVideoEncoder: func(params codec.VideoParams) (codec.VideoEncoder, error) {
			return codec.NewVideoEncoder(tc, params, logger)
		},
		DescribeVideo: func(params codec.VideoParams) (codec.Descriptor, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return codec.DescribeVideo(ctx, tc, params)
		},
		CreateContainer: container.Create,
	}
}

// Config controls a recording session.
type Config struct {
	OutputFile string
	// QueueCapacity bounds every actor inbox. Defaults to 100.
	QueueCapacity int
	FrameInterval time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

func (c *Config) setDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = worker.DefaultCapacity
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Recorder is a running recording session. Stop must be called exactly
// once to finalize the output file.
type Recorder struct {
	id      string
	cfg     Config
	ref     timeref.Reference
	display device.Display
	logger  *slog.Logger

	muxer *muxerActor
	audio *audioPipeline
	video *videoPipeline
}

// New starts recording the selected display and the system audio into
// cfg.OutputFile. On error nothing is left running.
func New(cfg Config, env Environment) (*Recorder, error) {
	cfg.setDefaults()
	if cfg.OutputFile == "" {
		return nil, setupError(ErrContainer, pkgerrors.New("no output file"))
	}

	id := uuid.NewString()
	logger := cfg.Logger.With("session", id)

	if err := env.Init(); err != nil {
		return nil, setupError(ErrInitFailed, err)
	}
	ref := timeref.New(cfg.Clock)

	display, err := env.Display(context.Background())
	if err != nil {
		return nil, setupError(ErrNoDisplay, err)
	}
	logger.Info("Recording display", "display", display.Name, "width", display.Width, "height", display.Height)

	audioParams := codec.DefaultAudioParams()
	audioDesc, err := codec.DescribeAudio(audioParams)
	if err != nil {
		return nil, setupError(ErrEncoderOpen, err)
	}
	videoParams := codec.DefaultVideoParams(display.Width&^1, display.Height&^1)
	videoDesc, err := env.DescribeVideo(videoParams)
	if err != nil {
		return nil, setupError(ErrEncoderOpen, err)
	}

	r := &Recorder{id: id, cfg: cfg, ref: ref, display: display, logger: logger}

	r.muxer, err = startMuxer(cfg.OutputFile, cfg.QueueCapacity, audioDesc, videoDesc, env.CreateContainer, logger)
	if err != nil {
		return nil, err
	}
	r.audio, err = startAudio(ref, r.muxer.sender(), cfg.QueueCapacity, audioParams, env, logger)
	if err != nil {
		r.abort()
		return nil, err
	}
	r.video, err = startVideo(ref, r.muxer.sender(), cfg, display, videoParams, env, logger)
	if err != nil {
		r.abort()
		return nil, err
	}

	logger.Info("Recording started", "output", cfg.OutputFile)
	return r, nil
}

// abort tears down whatever New managed to start.
func (r *Recorder) abort() {
	if err := r.stop(); err != nil {
		r.logger.Debug("Partial recorder shutdown", "error", err)
	}
}

// Stop halts audio, then video, then finalizes the container. Every stage
// is stopped even when an earlier one fails; the errors are combined.
// Frames still buffered inside the encoders are not flushed.
func (r *Recorder) Stop() error {
	err := r.stop()
	if err != nil {
		r.logger.Error("Recording stopped with errors", "error", err)
	} else {
		r.logger.Info("Recording stopped", "output", r.cfg.OutputFile)
	}
	return err
}

func (r *Recorder) stop() error {
	var errs []error
	if r.audio != nil {
		if err := r.audio.stop(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, "audio pipeline"))
		}
		r.audio = nil
	}
	if r.video != nil {
		if err := r.video.stop(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, "video pipeline"))
		}
		r.video = nil
	}
	if r.muxer != nil {
		if err := r.muxer.stop(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, "muxer"))
		}
		r.muxer = nil
	}
	return errors.Join(errs...)
}

// SessionID identifies this recording in logs.
func (r *Recorder) SessionID() string {
	return r.id
}

// OutputFile is the path being written.
func (r *Recorder) OutputFile() string {
	return r.cfg.OutputFile
}

// Display is the display being captured.
func (r *Recorder) Display() device.Display {
	return r.display
}

// Elapsed is the time since the session's reference origin.
func (r *Recorder) Elapsed() time.Duration {
	return time.Duration(r.ref.Now()) * time.Microsecond
}
