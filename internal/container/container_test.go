package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x64, 0x00, 0x2A, 0xAC, 0xD9, 0x40, 0x78, 0x02, 0x27, 0xE5, 0x84}
	testPPS = []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}
)

func annexB(nalus ...[]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = append(b, 0, 0, 0, 1)
		b = append(b, n...)
	}
	return b
}

func descriptors(t *testing.T) (codec.Descriptor, codec.Descriptor) {
	t.Helper()
	audio, err := codec.DescribeAudio(codec.DefaultAudioParams())
	require.NoError(t, err)
	video, err := codec.VideoDescriptor(codec.DefaultVideoParams(64, 32), testSPS, testPPS)
	require.NoError(t, err)
	return audio, video
}

func videoPacket(i int) media.Packet {
	var au []byte
	if i == 0 {
		au = annexB([]byte{0x09, 0xF0}, testSPS, testPPS, []byte{0x65, 0x88, 0x84, byte(i)})
	} else {
		au = annexB([]byte{0x09, 0xF0}, []byte{0x41, 0x9A, 0x02, byte(i)})
	}
	pts := int64(i) * 16_666
	return media.Packet{Kind: media.Video, Data: au, PTS: pts, DTS: pts, Duration: 16_666, KeyFrame: i == 0}
}

func audioPacket(i int) media.Packet {
	pts := int64(i) * 21_333
	return media.Packet{Kind: media.Audio, Data: []byte{0x21, 0x10, 0x04, byte(i)}, PTS: pts, DTS: pts, Duration: 21_333, KeyFrame: true}
}

func record(t *testing.T, m Muxer, audioFrames, videoFrames int) {
	t.Helper()
	audio, video := descriptors(t)
	ai, err := m.AddStream(audio)
	require.NoError(t, err)
	vi, err := m.AddStream(video)
	require.NoError(t, err)
	require.NoError(t, m.WriteHeader())

	write := func(idx int, p media.Packet) {
		p.RescaleTS(media.MicrosecondTimeBase, m.TimeBase(idx))
		require.NoError(t, m.WriteInterleaved(idx, p))
	}
	for a, v := 0, 0; a < audioFrames || v < videoFrames; {
		if v < videoFrames {
			write(vi, videoPacket(v))
			v++
		}
		if a < audioFrames {
			write(ai, audioPacket(a))
			a++
		}
	}
	require.NoError(t, m.WriteTrailer())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "out.mkv", want: "matroska"},
		{path: "OUT.MKV", want: "matroska"},
		{path: "out.ts", want: "mpegts"},
		{path: "out.m2ts", want: "mpegts"},
		{path: "out.mp4", want: "mp4"},
		{path: "out.m4v", want: "mp4"},
		{path: "out", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Format(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateUnsupportedDoesNotTouchDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.avi")
	_, err := Create(path, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCreateFailsForMissingDirectory(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "out.mkv"), nil)
	assert.Error(t, err)
}

func TestMatroskaRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mkv")
	m, err := Create(path, slog.Default())
	require.NoError(t, err)

	record(t, m, 40, 50)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 200)
	assert.Equal(t, []byte{0x1A, 0x45, 0xDF, 0xA3}, data[:4], "EBML magic")
	assert.True(t, bytes.Contains(data, []byte("matroska")))
	assert.True(t, bytes.Contains(data, []byte("V_MPEG4/ISO/AVC")))
	assert.True(t, bytes.Contains(data, []byte("A_AAC")))
	assert.True(t, bytes.Contains(data, testSPS), "avcC carries the SPS")
	assert.True(t, bytes.Contains(data, []byte{0x41, 0x9A, 0x02, 49}), "last video frame is written")

	assert.ErrorIs(t, m.WriteTrailer(), ErrTrailerWritten)
	assert.ErrorIs(t, m.WriteInterleaved(0, audioPacket(0)), ErrTrailerWritten)
}

func TestMPEGTSRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ts")
	m, err := Create(path, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, media.Rational{}, m.TimeBase(5))

	record(t, m, 30, 40)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := &mpegts.Reader{R: f}
	require.NoError(t, r.Initialize())

	var videoPTS []int64
	audioFrames := 0
	for _, track := range r.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			r.OnDataH264(track, func(pts int64, dts int64, au [][]byte) error {
				videoPTS = append(videoPTS, pts)
				return nil
			})
		case *mpegts.CodecMPEG4Audio:
			r.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
				audioFrames += len(aus)
				return nil
			})
		}
	}
	for {
		if err := r.Read(); err != nil {
			break
		}
	}

	assert.Equal(t, 30, audioFrames)
	require.GreaterOrEqual(t, len(videoPTS), 39)
	for i := 1; i < len(videoPTS); i++ {
		assert.InDelta(t, 1500, videoPTS[i]-videoPTS[i-1], 1)
	}
}

// splitBoxes cuts an ISO BMFF file at its top-level boxes.
func splitBoxes(t *testing.T, data []byte) (types []string, boxes [][]byte) {
	t.Helper()
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 8)
		size := int(binary.BigEndian.Uint32(data))
		require.GreaterOrEqual(t, size, 8)
		require.LessOrEqual(t, size, len(data))
		types = append(types, string(data[4:8]))
		boxes = append(boxes, data[:size])
		data = data[size:]
	}
	return types, boxes
}

func TestFMP4RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	m, err := Create(path, slog.Default())
	require.NoError(t, err)

	// 3s of video and audio, so several fragments
	record(t, m, 140, 180)
	assert.Equal(t, media.Rational{Num: 1, Den: 48000}, m.TimeBase(0))
	assert.Equal(t, media.Rational{Num: 1, Den: 90000}, m.TimeBase(1))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	types, boxes := splitBoxes(t, data)
	require.GreaterOrEqual(t, len(types), 4)
	assert.Equal(t, []string{"ftyp", "moov"}, types[:2])

	var init fmp4.Init
	require.NoError(t, init.Unmarshal(bytes.NewReader(append(append([]byte{}, boxes[0]...), boxes[1]...))))
	require.Len(t, init.Tracks, 2)
	assert.IsType(t, &mp4.CodecMPEG4Audio{}, init.Tracks[0].Codec)
	assert.IsType(t, &mp4.CodecH264{}, init.Tracks[1].Codec)
	assert.Equal(t, uint32(90000), init.Tracks[1].TimeScale)

	var parts fmp4.Parts
	require.NoError(t, parts.Unmarshal(data[len(boxes[0])+len(boxes[1]):]))
	assert.Greater(t, len(parts), 1)

	samples := map[int]int{}
	next := map[int]uint64{}
	for i, part := range parts {
		assert.Equal(t, uint32(i+1), part.SequenceNumber)
		for _, track := range part.Tracks {
			if want, ok := next[track.ID]; ok {
				assert.Equal(t, want, track.BaseTime, "fragments of track %d are contiguous", track.ID)
			}
			dts := track.BaseTime
			for _, s := range track.Samples {
				dts += uint64(s.Duration)
			}
			next[track.ID] = dts
			samples[track.ID] += len(track.Samples)
		}
	}
	assert.Equal(t, 140, samples[1])
	assert.Equal(t, 180, samples[2])
	assert.InDelta(t, 180*1500, next[2], 180)
}

type recordingBackend struct {
	streams  int
	written  []queued
	failOn   int
	finished bool
}

func (b *recordingBackend) addStream(d codec.Descriptor) (media.Rational, error) {
	b.streams++
	return media.MicrosecondTimeBase, nil
}

func (b *recordingBackend) writeHeader() error { return nil }

func (b *recordingBackend) writePacket(stream int, p media.Packet) error {
	if b.failOn >= 0 && p.PTS == int64(b.failOn) {
		return errors.New("disk full")
	}
	b.written = append(b.written, queued{stream: stream, pkt: p})
	return nil
}

func (b *recordingBackend) finish() error {
	b.finished = true
	return nil
}

func TestMuxerLifecycle(t *testing.T) {
	b := &recordingBackend{failOn: 30}
	m := newMuxer("test", b, slog.Default())

	assert.ErrorIs(t, m.WriteInterleaved(0, media.Packet{}), ErrHeaderNotWritten)
	assert.Error(t, m.WriteHeader(), "no streams")

	audio, video := descriptors(t)
	_, err := m.AddStream(audio)
	require.NoError(t, err)
	_, err = m.AddStream(video)
	require.NoError(t, err)
	require.NoError(t, m.WriteHeader())
	_, err = m.AddStream(audio)
	assert.Error(t, err)

	require.NoError(t, m.WriteInterleaved(0, media.Packet{PTS: 10, DTS: 10}))
	require.NoError(t, m.WriteInterleaved(1, media.Packet{PTS: 20, DTS: 20}))
	require.NoError(t, m.WriteInterleaved(0, media.Packet{PTS: 30, DTS: 30}))
	// releases the packet at 30, which the backend rejects
	require.NoError(t, m.WriteInterleaved(1, media.Packet{PTS: 40, DTS: 40}))
	require.NoError(t, m.WriteInterleaved(0, media.Packet{PTS: 50, DTS: 50}))
	require.NoError(t, m.WriteTrailer())
	assert.Equal(t, []int{1, 0}, m.dropped)
	assert.Equal(t, []int{2, 2}, m.written)

	assert.True(t, b.finished)
	var pts []int64
	for _, q := range b.written {
		pts = append(pts, q.pkt.PTS)
	}
	assert.Equal(t, []int64{10, 20, 40, 50}, pts, "the failing packet is dropped and muxing continues")
}

func TestDescribe(t *testing.T) {
	audio, video := descriptors(t)
	assert.Equal(t, "Audio: aac, 48000 Hz, stereo", Describe(audio))
	assert.Equal(t, "Video: h264, yuv420p, 64x32", Describe(video))
}

func TestWriterCloserStopsAfterFailure(t *testing.T) {
	w := &failingWriter{}
	wc := newWriterCloser(w, slog.Default())

	_, err := wc.Write([]byte("a"))
	assert.Error(t, err)
	_, err = wc.Write([]byte("b"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, 1, w.calls)

	require.NoError(t, wc.Close())
	require.NoError(t, wc.Close())
	<-wc.closed
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, errors.New("broken pipe")
}

func (w *failingWriter) Close() error { return nil }
