package codec

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/asgeir/slickscreen/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/pkg/errors"
)

const adtsHeaderSize = 7

// readADTSFrame reads one ADTS frame and returns its raw AAC payload.
func readADTSFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, adtsHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint16(header)&0xFFF0 != 0xFFF0 {
		return nil, errors.New("lost ADTS sync")
	}
	frameLen := int(header[3]&0x03)<<11 | int(header[4])<<3 | int(header[5])>>5
	if frameLen < adtsHeaderSize {
		return nil, errors.Errorf("invalid ADTS frame length %d", frameLen)
	}

	frame := make([]byte, frameLen)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[adtsHeaderSize:]); err != nil {
		return nil, err
	}

	var pkts mpeg4audio.ADTSPackets
	if err := pkts.Unmarshal(frame); err != nil {
		return nil, errors.Wrap(err, "invalid ADTS frame")
	}
	if len(pkts) != 1 {
		return nil, errors.Errorf("expected one ADTS packet, got %d", len(pkts))
	}
	return pkts[0].AU, nil
}

// chunkMark records where a submitted chunk starts in the sample stream.
type chunkMark struct {
	start int64
	pts   int64
}

// sampleClock maps sample positions in the encoder input to capture time.
// It runs off the sample count from an anchor chunk and only moves the
// anchor when a chunk was captured later than the sample count predicts,
// so bursts of chunks stamped close together never make time run back.
type sampleClock struct {
	rate     media.Rational
	timeBase media.Rational
	marks    []chunkMark
	next     int64

	anchor   chunkMark
	anchored bool
	last     int64
}

func newSampleClock(sampleRate int, timeBase media.Rational) *sampleClock {
	return &sampleClock{rate: media.Rational{Num: 1, Den: int64(sampleRate)}, timeBase: timeBase}
}

func (c *sampleClock) add(pts int64, frames int) {
	c.marks = append(c.marks, chunkMark{start: c.next, pts: pts})
	c.next += int64(frames)
}

func (c *sampleClock) extrapolate(pos int64) int64 {
	return c.anchor.pts + media.Rescale(pos-c.anchor.start, c.rate, c.timeBase)
}

func (c *sampleClock) at(pos int64) (int64, bool) {
	for len(c.marks) > 0 && c.marks[0].start <= pos {
		m := c.marks[0]
		c.marks = c.marks[1:]
		if !c.anchored || m.pts > c.extrapolate(m.start) {
			c.anchor = m
			c.anchored = true
		}
	}
	if !c.anchored {
		return 0, false
	}

	pts := c.extrapolate(pos)
	if pts < c.last {
		pts = c.last
	}
	c.last = pts
	return pts, true
}

type ffmpegAudioEncoder struct {
	params AudioParams
	proc   *process
	queue  packetQueue
	logger *slog.Logger

	mu     sync.Mutex
	clock  *sampleClock
	closed bool
}

// NewAudioEncoder starts an AAC encoder process for params.
func NewAudioEncoder(tc Toolchain, params AudioParams, logger *slog.Logger) (AudioEncoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	args := append(baseArgs(), params.inputArgs()...)
	args = append(args, params.encodeArgs(tc.AudioEncoder)...)
	proc, err := startProcess(tc.Path, args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open audio encoder")
	}

	e := &ffmpegAudioEncoder{
		params: params,
		proc:   proc,
		clock:  newSampleClock(params.SampleRate, params.TimeBase),
		logger: logger.With("component", "aac_encoder", "encoder", tc.AudioEncoder),
	}
	go e.run()
	return e, nil
}

func (e *ffmpegAudioEncoder) run() {
	var err error
	for index := int64(0); ; index++ {
		var au []byte
		au, err = readADTSFrame(e.proc.stdout)
		if err != nil {
			break
		}

		e.mu.Lock()
		pts, ok := e.clock.at(index * int64(e.params.FrameSize))
		e.mu.Unlock()
		if !ok {
			continue
		}

		e.queue.push(media.Packet{
			Kind:     media.Audio,
			Data:     au,
			PTS:      pts,
			DTS:      pts,
			Duration: e.params.FrameDuration(),
			KeyFrame: true,
		})
	}

	if err != io.EOF && err != io.ErrUnexpectedEOF {
		e.logger.Warn("Audio encoder output unreadable", "error", err)
		io.Copy(io.Discard, e.proc.stdout)
	} else {
		err = nil
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

func (e *ffmpegAudioEncoder) SendChunk(chunk media.AudioChunk) error {
	if len(chunk.Samples)%(e.params.Channels*media.BytesPerSample) != 0 {
		return errors.Errorf("chunk of %d bytes is not whole sample frames", len(chunk.Samples))
	}
	if err := e.queue.failure(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.clock.add(chunk.PTS, chunk.Frames())
	e.mu.Unlock()

	if _, err := e.proc.stdin.Write(chunk.Samples); err != nil {
		return errors.Wrap(err, "failed to submit audio chunk")
	}
	return nil
}

func (e *ffmpegAudioEncoder) ReceivePacket() (media.Packet, error) {
	return e.queue.pop()
}

func (e *ffmpegAudioEncoder) Params() AudioParams {
	return e.params
}

// Close releases the encoder without draining buffered samples.
func (e *ffmpegAudioEncoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.proc.shutdown(5 * time.Second); err != nil {
		e.logger.Debug("audio encoder exited", "error", err)
	}
	return nil
}
