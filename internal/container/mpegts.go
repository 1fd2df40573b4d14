package container

import (
	"bufio"
	"io"
	"log/slog"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/pkg/errors"
)

// mpegtsTimeBase is the 90kHz MPEG system clock.
var mpegtsTimeBase = media.Rational{Num: 1, Den: 90000}

type mpegtsBackend struct {
	file   *writerCloser
	bw     *bufio.Writer
	logger *slog.Logger
	tracks []*mpegts.Track
	kinds  []media.StreamKind
	w      *mpegts.Writer
}

func newMPEGTSBackend(w io.WriteCloser, logger *slog.Logger) *mpegtsBackend {
	file := newWriterCloser(w, logger)
	return &mpegtsBackend{
		file:   file,
		bw:     bufio.NewWriterSize(file, 64*1024),
		logger: logger,
	}
}

func (b *mpegtsBackend) addStream(d codec.Descriptor) (media.Rational, error) {
	var track *mpegts.Track
	switch d.Codec {
	case codec.H264:
		track = &mpegts.Track{Codec: &mpegts.CodecH264{}}
	case codec.AAC:
		var asc mpeg4audio.AudioSpecificConfig
		if err := asc.Unmarshal(d.Extradata); err != nil {
			return media.Rational{}, errors.Wrap(err, "invalid AudioSpecificConfig")
		}
		track = &mpegts.Track{Codec: &mpegts.CodecMPEG4Audio{Config: asc}}
	default:
		return media.Rational{}, errors.Errorf("mpegts: unsupported codec %q", d.Codec)
	}

	b.tracks = append(b.tracks, track)
	b.kinds = append(b.kinds, d.Kind)
	return mpegtsTimeBase, nil
}

func (b *mpegtsBackend) writeHeader() error {
	b.w = &mpegts.Writer{W: b.bw, Tracks: b.tracks}
	return b.w.Initialize()
}

func (b *mpegtsBackend) writePacket(stream int, p media.Packet) error {
	track := b.tracks[stream]
	if b.kinds[stream] == media.Video {
		au, err := codec.SplitAccessUnit(p.Data)
		if err != nil {
			return err
		}
		return b.w.WriteH264(track, p.PTS, p.DTS, au)
	}
	return b.w.WriteMPEG4Audio(track, p.PTS, [][]byte{p.Data})
}

func (b *mpegtsBackend) finish() error {
	flushErr := b.bw.Flush()
	if err := b.file.Close(); err != nil {
		return err
	}
	return flushErr
}
