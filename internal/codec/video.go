package codec

import (
	"log/slog"
	"sync"
	"time"

	"github.com/asgeir/slickscreen/internal/media"
	"github.com/pkg/errors"
)

type ffmpegVideoEncoder struct {
	params  VideoParams
	proc    *process
	queue   packetQueue
	logger  *slog.Logger
	scratch []byte

	mu      sync.Mutex
	pending []int64
	closed  bool
}

// NewVideoEncoder starts an H.264 encoder process for params.
func NewVideoEncoder(tc Toolchain, params VideoParams, logger *slog.Logger) (VideoEncoder, error) {
	if params.Width <= 0 || params.Height <= 0 || params.Width%2 != 0 || params.Height%2 != 0 {
		return nil, errors.Errorf("invalid video size %dx%d", params.Width, params.Height)
	}
	if logger == nil {
		logger = slog.Default()
	}

	args := append(baseArgs(), params.inputArgs()...)
	args = append(args, params.encodeArgs()...)
	proc, err := startProcess(tc.Path, args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open video encoder")
	}

	e := &ffmpegVideoEncoder{
		params: params,
		proc:   proc,
		logger: logger.With("component", "h264_encoder"),
	}
	go e.run()
	return e, nil
}

func (e *ffmpegVideoEncoder) run() {
	var splitter accessUnitSplitter
	err := readLoop(e.proc.stdout, e.logger, func(b []byte) {
		for _, au := range splitter.Push(b) {
			e.emit(au)
		}
	})
	if au := splitter.Flush(); au != nil {
		e.emit(au)
	}
	e.proc.wait()
	if err == nil {
		err = e.proc.err
	}
	if err == nil {
		err = ErrClosed
	}
	e.queue.fail(err)
}

func (e *ffmpegVideoEncoder) emit(au []byte) {
	nalus, err := SplitAccessUnit(au)
	if err != nil {
		e.logger.Warn("Dropping malformed access unit", "error", err, "size", len(au))
		return
	}

	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		e.logger.Warn("Access unit without a submitted frame", "size", len(au))
		return
	}
	pts := e.pending[0]
	e.pending = e.pending[1:]
	e.mu.Unlock()

	e.queue.push(media.Packet{
		Kind:     media.Video,
		Data:     au,
		PTS:      pts,
		DTS:      pts,
		Duration: e.params.FrameDuration(),
		KeyFrame: IsKeyFrame(nalus),
	})
}

func (e *ffmpegVideoEncoder) SendFrame(frame *media.PlanarFrame) error {
	if frame.Width != e.params.Width || frame.Height != e.params.Height {
		return errors.Errorf("frame is %dx%d, encoder expects %dx%d", frame.Width, frame.Height, e.params.Width, e.params.Height)
	}
	if err := e.queue.failure(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.pending = append(e.pending, frame.PTS)
	e.mu.Unlock()

	e.scratch = frame.AppendTo(e.scratch[:0])
	if _, err := e.proc.stdin.Write(e.scratch); err != nil {
		return errors.Wrap(err, "failed to submit frame")
	}
	return nil
}

func (e *ffmpegVideoEncoder) ReceivePacket() (media.Packet, error) {
	return e.queue.pop()
}

func (e *ffmpegVideoEncoder) Params() VideoParams {
	return e.params
}

// Close releases the encoder. Frames still buffered inside the encoder
// are discarded.
func (e *ffmpegVideoEncoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.proc.shutdown(5 * time.Second); err != nil {
		e.logger.Debug("video encoder exited", "error", err)
	}
	return nil
}
