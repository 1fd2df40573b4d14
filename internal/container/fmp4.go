package container

import (
	"io"
	"log/slog"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

const (
	fmp4VideoTimeScale = 90000
	// fragmentDuration is the track time a fragment spans before it is
	// written out.
	fragmentDuration = 1_000_000 // µs
)

type fmp4Track struct {
	id       int
	kind     media.StreamKind
	timeBase media.Rational
	codec    mp4.Codec

	// the newest packet waits for its successor to learn its duration
	pending    *media.Packet
	samples    []*fmp4.Sample
	baseTime   int64
	lastSample int64
}

// fmp4Backend writes fragmented MP4: an init segment (ftyp+moov) followed
// by moof+mdat fragments, so the file is playable without a final moov.
type fmp4Backend struct {
	out      *writerCloser
	logger   *slog.Logger
	tracks   []*fmp4Track
	sequence uint32
}

func newFMP4Backend(w io.WriteCloser, logger *slog.Logger) *fmp4Backend {
	return &fmp4Backend{
		out:      newWriterCloser(w, logger),
		logger:   logger,
		sequence: 1,
	}
}

func (b *fmp4Backend) addStream(d codec.Descriptor) (media.Rational, error) {
	t := &fmp4Track{id: len(b.tracks) + 1, kind: d.Kind}

	switch d.Codec {
	case codec.H264:
		if len(d.SPS) == 0 || len(d.PPS) == 0 {
			return media.Rational{}, errors.New("fmp4: H.264 stream without SPS/PPS")
		}
		t.codec = &mp4.CodecH264{SPS: d.SPS, PPS: d.PPS}
		t.timeBase = media.Rational{Num: 1, Den: fmp4VideoTimeScale}
	case codec.AAC:
		var asc mpeg4audio.AudioSpecificConfig
		if err := asc.Unmarshal(d.Extradata); err != nil {
			return media.Rational{}, errors.Wrap(err, "invalid AudioSpecificConfig")
		}
		t.codec = &mp4.CodecMPEG4Audio{Config: asc}
		t.timeBase = media.Rational{Num: 1, Den: int64(asc.SampleRate)}
	default:
		return media.Rational{}, errors.Errorf("fmp4: unsupported codec %q", d.Codec)
	}

	b.tracks = append(b.tracks, t)
	return t.timeBase, nil
}

func (b *fmp4Backend) writeHeader() error {
	init := &fmp4.Init{}
	for _, t := range b.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: uint32(t.timeBase.Den),
			Codec:     t.codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return errors.Wrap(err, "failed to marshal init segment")
	}
	_, err := b.out.Write(buf.Bytes())
	return err
}

func (b *fmp4Backend) writePacket(stream int, p media.Packet) error {
	t := b.tracks[stream]

	if t.kind == media.Video {
		data, err := annexBToAVCC(p.Data)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		p.Data = data
	} else {
		p = p.Clone()
	}

	if t.pending != nil {
		t.push(p.DTS)
	}
	t.pending = &p

	if b.due() {
		return b.flush()
	}
	return nil
}

// push turns the pending packet into a sample that lasts until next.
func (t *fmp4Track) push(next int64) {
	p := t.pending
	t.pending = nil

	duration := next - p.DTS
	if duration <= 0 {
		duration = p.Duration
	}
	if duration <= 0 {
		duration = 1
	}
	if len(t.samples) == 0 {
		t.baseTime = p.DTS
	}
	t.samples = append(t.samples, &fmp4.Sample{
		Duration:        uint32(duration),
		PTSOffset:       int32(p.PTS - p.DTS),
		IsNonSyncSample: !p.KeyFrame,
		Payload:         p.Data,
	})
	t.lastSample = p.DTS
}

func (t *fmp4Track) span() int64 {
	if len(t.samples) == 0 {
		return 0
	}
	return media.Rescale(t.lastSample-t.baseTime, t.timeBase, media.MicrosecondTimeBase)
}

func (b *fmp4Backend) due() bool {
	for _, t := range b.tracks {
		if t.span() >= fragmentDuration {
			return true
		}
	}
	return false
}

// flush writes every sample collected so far as one fragment.
func (b *fmp4Backend) flush() error {
	part := &fmp4.Part{SequenceNumber: b.sequence}
	for _, t := range b.tracks {
		if len(t.samples) == 0 {
			continue
		}
		base := t.baseTime
		if base < 0 {
			base = 0
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       t.id,
			BaseTime: uint64(base),
			Samples:  t.samples,
		})
		t.samples = nil
	}
	if len(part.Tracks) == 0 {
		return nil
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return errors.Wrap(err, "failed to marshal fragment")
	}
	if _, err := b.out.Write(buf.Bytes()); err != nil {
		return err
	}
	b.sequence++
	return nil
}

func (b *fmp4Backend) finish() error {
	for _, t := range b.tracks {
		if t.pending != nil {
			t.push(t.pending.DTS + t.pending.Duration)
		}
	}
	flushErr := b.flush()
	if err := b.out.Close(); err != nil {
		return err
	}
	return flushErr
}
