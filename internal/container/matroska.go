package container

import (
	"io"
	"log/slog"
	"time"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/asgeir/slickscreen/internal/version"
	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// matroskaTimeBase is the default 1ms TimecodeScale.
var matroskaTimeBase = media.Rational{Num: 1, Den: 1000}

const finishTimeout = 10 * time.Second

type matroskaBackend struct {
	out     *writerCloser
	logger  *slog.Logger
	tracks  []webm.TrackEntry
	kinds   []media.StreamKind
	writers []webm.BlockWriteCloser
	fatal   chan error
}

func newMatroskaBackend(w io.WriteCloser, logger *slog.Logger) *matroskaBackend {
	return &matroskaBackend{
		out:    newWriterCloser(w, logger),
		logger: logger,
		fatal:  make(chan error, 1),
	}
}

func (b *matroskaBackend) addStream(d codec.Descriptor) (media.Rational, error) {
	n := uint64(len(b.tracks) + 1)
	entry := webm.TrackEntry{
		TrackNumber:  n,
		TrackUID:     n,
		CodecPrivate: d.Extradata,
	}

	switch d.Codec {
	case codec.H264:
		entry.Name = "Video"
		entry.CodecID = "V_MPEG4/ISO/AVC"
		entry.TrackType = 1
		entry.DefaultDuration = 16666000
		entry.Video = &webm.Video{
			PixelWidth:  uint64(d.Width),
			PixelHeight: uint64(d.Height),
		}
	case codec.AAC:
		entry.Name = "Audio"
		entry.CodecID = "A_AAC"
		entry.TrackType = 2
		entry.Audio = &webm.Audio{
			SamplingFrequency: float64(d.SampleRate),
			Channels:          uint64(d.Channels),
		}
	default:
		return media.Rational{}, errors.Errorf("matroska: unsupported codec %q", d.Codec)
	}

	b.tracks = append(b.tracks, entry)
	b.kinds = append(b.kinds, d.Kind)
	return matroskaTimeBase, nil
}

func (b *matroskaBackend) writeHeader() error {
	writers, err := webm.NewSimpleBlockWriter(b.out, b.tracks,
		mkvcore.WithEBMLHeader(&webm.EBMLHeader{
			EBMLVersion:        1,
			EBMLReadVersion:    1,
			EBMLMaxIDLength:    4,
			EBMLMaxSizeLength:  8,
			DocType:            "matroska",
			DocTypeVersion:     4,
			DocTypeReadVersion: 2,
		}),
		mkvcore.WithSegmentInfo(&webm.Info{
			TimecodeScale: 1000000,
			MuxingApp:     "slickscreen",
			WritingApp:    "slickscreen " + version.Version,
		}),
		mkvcore.WithOnFatalHandler(func(err error) {
			b.logger.Error("Matroska writer failed", "error", err)
			select {
			case b.fatal <- err:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}
	b.writers = writers
	return nil
}

func (b *matroskaBackend) writePacket(stream int, p media.Packet) error {
	select {
	case err := <-b.fatal:
		b.fatal <- err
		return errors.Wrap(err, "matroska writer failed")
	default:
	}

	data := p.Data
	if b.kinds[stream] == media.Video {
		var err error
		if data, err = annexBToAVCC(p.Data); err != nil {
			return err
		}
	}
	if len(data) == 0 {
		return nil
	}

	_, err := b.writers[stream].Write(p.KeyFrame, p.PTS, data)
	return err
}

func (b *matroskaBackend) finish() error {
	if b.writers == nil {
		return b.out.Close()
	}
	for _, w := range b.writers {
		if err := w.Close(); err != nil {
			b.logger.Warn("Track writer close error", "error", err)
		}
	}
	b.writers = nil

	// the block writer closes the file from its own goroutine once every
	// track is closed
	select {
	case <-b.out.closed:
		return b.out.err
	case <-time.After(finishTimeout):
		b.out.Close()
		return errors.New("timed out finalizing matroska file")
	}
}

// annexBToAVCC converts an access unit to length-prefixed NAL units,
// dropping delimiters.
func annexBToAVCC(au []byte) ([]byte, error) {
	nalus, err := codec.SplitAccessUnit(au)
	if err != nil {
		return nil, err
	}
	kept := nalus[:0]
	for _, n := range nalus {
		if len(n) == 0 || h264.NALUType(n[0]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
			continue
		}
		kept = append(kept, n)
	}
	if len(kept) == 0 {
		return nil, nil
	}
	return h264.AVCC(kept).Marshal()
}
