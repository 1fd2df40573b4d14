package recorder

import (
	"errors"
	"log/slog"
	"time"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/device"
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/asgeir/slickscreen/internal/timeref"
	"github.com/asgeir/slickscreen/internal/worker"
	pkgerrors "github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// videoPipeline is a self-paced capture, convert and encode loop.
type videoPipeline struct {
	worker *worker.Worker[videoMessage]
}

type videoLoop struct {
	ref      timeref.Reference
	clk      clock.Clock
	interval time.Duration
	capturer device.ScreenCapturer
	encoder  codec.VideoEncoder
	out      worker.Sender[muxMessage]
	logger   *slog.Logger

	width, height int
	packed        []byte
	planar        *media.PlanarFrame
	frames        int64
}

func startVideo(ref timeref.Reference, out worker.Sender[muxMessage], cfg Config, display device.Display, params codec.VideoParams, env Environment, logger *slog.Logger) (*videoPipeline, error) {
	logger = logger.With("component", "video_pipeline")

	capturer, err := env.OpenScreen(display)
	if err != nil {
		return nil, setupError(ErrScreenCapture, err)
	}
	enc, err := env.NewVideoEncoder(params)
	if err != nil {
		capturer.Close()
		return nil, setupError(ErrEncoderOpen, err)
	}

	loop := &videoLoop{
		ref:      ref,
		clk:      cfg.Clock,
		interval: cfg.FrameInterval,
		capturer: capturer,
		encoder:  enc,
		out:      out,
		logger:   logger,
		width:    params.Width,
		height:   params.Height,
		packed:   make([]byte, params.Width*4*params.Height),
		planar:   media.NewPlanarFrame(params.Width, params.Height),
	}

	w := worker.SpawnWithCapacity(cfg.QueueCapacity, out, func(out worker.Sender[muxMessage], inbox <-chan videoMessage) {
		loop.run(inbox)
	})
	return &videoPipeline{worker: w}, nil
}

func (p *videoPipeline) stop() error {
	return p.worker.Stop()
}

func (l *videoLoop) run(inbox <-chan videoMessage) {
	defer l.capturer.Close()
	defer l.encoder.Close()

	for {
		start := l.clk.Now()

		frame, err := l.capturer.Frame()
		switch {
		case errors.Is(err, device.ErrNotReady):
		case err != nil:
			l.logger.Error("Screen capture failed, stopping video", "error", err)
			return
		default:
			if err := l.encode(frame, l.ref.Now()); err != nil {
				l.logger.Error("Video pipeline stopped", "error", err, "frames", l.frames)
				return
			}
		}

		select {
		case msg, ok := <-inbox:
			if !ok || msg.quit {
				return
			}
		default:
		}

		remaining := l.interval - l.clk.Since(start)
		if remaining <= 0 {
			continue
		}
		select {
		case msg, ok := <-inbox:
			if !ok || msg.quit {
				return
			}
		case <-l.clk.After(remaining):
		}
	}
}

func (l *videoLoop) encode(frame media.VideoFrame, pts int64) error {
	if frame.Width < l.width || frame.Height < l.height {
		return pkgerrors.Errorf("captured frame %dx%d is smaller than %dx%d", frame.Width, frame.Height, l.width, l.height)
	}

	rowBytes := l.width * 4
	if err := media.CopyRows(l.packed, rowBytes, frame.Pix, frame.Stride, rowBytes, l.height); err != nil {
		return pkgerrors.Wrap(err, "failed to copy frame")
	}

	packed := media.VideoFrame{Width: l.width, Height: l.height, Stride: rowBytes, Pix: l.packed}
	if err := media.ConvertBGRAToI420(l.planar, packed); err != nil {
		return pkgerrors.Wrap(err, "failed to convert frame")
	}
	l.planar.PTS = pts

	if err := l.encoder.SendFrame(l.planar); err != nil {
		return pkgerrors.Wrap(err, "failed to encode frame")
	}
	l.frames++
	return drain(l.encoder.ReceivePacket, videoPacketMessage, l.out)
}
