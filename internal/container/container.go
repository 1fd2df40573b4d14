// Package container writes encoded streams into an output media file.
package container

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported container format")
	ErrHeaderNotWritten  = errors.New("container header not written")
	ErrTrailerWritten    = errors.New("container trailer already written")
)

// Muxer is an output container. Streams are added before WriteHeader;
// packets arrive with timestamps in TimeBase of their stream.
type Muxer interface {
	AddStream(d codec.Descriptor) (int, error)
	WriteHeader() error
	TimeBase(stream int) media.Rational
	WriteInterleaved(stream int, p media.Packet) error
	WriteTrailer() error
}

// backend is one container format.
type backend interface {
	addStream(d codec.Descriptor) (media.Rational, error)
	writeHeader() error
	writePacket(stream int, p media.Packet) error
	// finish finalizes the file and closes it.
	finish() error
}

// Format returns the container format implied by the extension of path.
func Format(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mkv":
		return "matroska", nil
	case ".ts", ".m2ts":
		return "mpegts", nil
	case ".mp4", ".m4v":
		return "mp4", nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%q", filepath.Ext(path))
	}
}

// Create opens path for writing in the format implied by its extension.
func Create(path string, logger *slog.Logger) (Muxer, error) {
	format, err := Format(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create output file")
	}

	logger = logger.With("component", "container", "format", format, "path", path)
	var b backend
	switch format {
	case "matroska":
		b = newMatroskaBackend(f, logger)
	case "mp4":
		b = newFMP4Backend(f, logger)
	default:
		b = newMPEGTSBackend(f, logger)
	}
	return newMuxer(format, b, logger), nil
}

type muxer struct {
	format    string
	backend   backend
	logger    *slog.Logger
	streams   []codec.Descriptor
	timeBases []media.Rational
	il        *interleaver
	header    bool
	trailer   bool
	written   []int
	dropped   []int
}

func newMuxer(format string, b backend, logger *slog.Logger) *muxer {
	return &muxer{format: format, backend: b, logger: logger}
}

func (m *muxer) AddStream(d codec.Descriptor) (int, error) {
	if m.header {
		return 0, errors.New("cannot add a stream after the header")
	}
	tb, err := m.backend.addStream(d)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to add %s stream", d.Kind)
	}
	m.streams = append(m.streams, d)
	m.timeBases = append(m.timeBases, tb)
	m.written = append(m.written, 0)
	m.dropped = append(m.dropped, 0)
	return len(m.streams) - 1, nil
}

func (m *muxer) WriteHeader() error {
	if m.header {
		return nil
	}
	if len(m.streams) == 0 {
		return errors.New("no streams added")
	}
	if err := m.backend.writeHeader(); err != nil {
		return errors.Wrap(err, "failed to write container header")
	}
	m.header = true
	m.il = newInterleaver(m.timeBases)
	m.dump()
	return nil
}

// dump logs one line per stream.
func (m *muxer) dump() {
	for i, d := range m.streams {
		m.logger.Info("Output stream", "index", i, "description", Describe(d), "time_base", m.timeBases[i].String())
	}
}

// Describe renders d the way a media inspector would summarise it.
func Describe(d codec.Descriptor) string {
	switch d.Kind {
	case media.Video:
		return fmt.Sprintf("Video: %s, yuv420p, %dx%d", d.Codec, d.Width, d.Height)
	case media.Audio:
		layout := fmt.Sprintf("%d channels", d.Channels)
		if d.Channels == 2 {
			layout = "stereo"
		}
		return fmt.Sprintf("Audio: %s, %d Hz, %s", d.Codec, d.SampleRate, layout)
	default:
		return string(d.Codec)
	}
}

func (m *muxer) TimeBase(stream int) media.Rational {
	if stream < 0 || stream >= len(m.timeBases) {
		return media.Rational{}
	}
	return m.timeBases[stream]
}

// WriteInterleaved queues p. Packets the interleaver releases are written
// right away; a packet the backend rejects is logged and dropped there, so
// the returned error only concerns p itself.
func (m *muxer) WriteInterleaved(stream int, p media.Packet) error {
	if m.trailer {
		return ErrTrailerWritten
	}
	if !m.header {
		return ErrHeaderNotWritten
	}
	if stream < 0 || stream >= len(m.streams) {
		return errors.Errorf("invalid stream index %d", stream)
	}
	m.writeAll(m.il.push(stream, p))
	return nil
}

// writeAll returns the first backend error after trying every packet.
func (m *muxer) writeAll(ready []queued) error {
	var firstErr error
	for _, q := range ready {
		if err := m.backend.writePacket(q.stream, q.pkt); err != nil {
			m.dropped[q.stream]++
			m.logger.Warn("Dropping packet after write failure", "stream", q.stream, "pts", q.pkt.PTS, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.written[q.stream]++
	}
	return firstErr
}

func (m *muxer) WriteTrailer() error {
	if m.trailer {
		return ErrTrailerWritten
	}
	m.trailer = true

	var flushErr error
	if m.header {
		flushErr = m.writeAll(m.il.flush())
	}
	if err := m.backend.finish(); err != nil {
		return errors.Wrap(err, "failed to write container trailer")
	}
	m.logger.Info("Container finalized", "packets", m.written, "dropped", m.dropped)
	return flushErr
}

// writerCloser guards the output file: after the first failed write it
// refuses further writes, and it reports when it has been closed.
type writerCloser struct {
	w      io.WriteCloser
	logger *slog.Logger
	failed bool
	once   sync.Once
	closed chan struct{}
	err    error
}

func newWriterCloser(w io.WriteCloser, logger *slog.Logger) *writerCloser {
	return &writerCloser{w: w, logger: logger, closed: make(chan struct{})}
}

func (wc *writerCloser) Write(p []byte) (int, error) {
	if wc.failed {
		return 0, io.ErrClosedPipe
	}
	n, err := wc.w.Write(p)
	if err != nil {
		wc.logger.Warn("Write error detected, marking writer as failed", "error", err, "data_size", len(p), "bytes_written", n)
		wc.failed = true
	}
	return n, err
}

func (wc *writerCloser) Close() error {
	wc.once.Do(func() {
		wc.err = wc.w.Close()
		close(wc.closed)
	})
	return wc.err
}
