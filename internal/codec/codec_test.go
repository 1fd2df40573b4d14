package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/asgeir/slickscreen/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeFFmpegScript = `#!/bin/sh
for a in "$@"; do
  if [ "$a" = "-encoders" ]; then
    cat "$FAKE_FFMPEG_ENCODERS"
    exit 0
  fi
done
echo "$@" > "$FAKE_FFMPEG_ARGS"
cat > /dev/null
cat "$FAKE_FFMPEG_OUTPUT"
`

const encoderListing = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D libx264rgb           libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 RGB (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus (codec opus)
`

var (
	testSPS = []byte{0x67, 0x64, 0x00, 0x2A, 0xAC, 0xD9, 0x40, 0x78}
	testPPS = []byte{0x68, 0xEB, 0xE3, 0xCB}
	testAUD = []byte{0x09, 0xF0}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testP   = []byte{0x41, 0x9A, 0x02, 0x0C}
)

func annexB(nalus ...[]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = append(b, 0, 0, 0, 1)
		b = append(b, n...)
	}
	return b
}

func adtsFrame(au []byte) []byte {
	frameLen := len(au) + adtsHeaderSize
	h := []byte{
		0xFF, 0xF1,
		0x01<<6 | 0x03<<2,
		0x02<<6 | byte(frameLen>>11)&0x03,
		byte(frameLen >> 3),
		byte(frameLen&0x07)<<5 | 0x1F,
		0xFC,
	}
	return append(h, au...)
}

type fakeFFmpeg struct {
	path     string
	argsFile string
}

func installFakeFFmpeg(t *testing.T, output []byte, listing string) fakeFFmpeg {
	t.Helper()
	tmp := t.TempDir()

	script := filepath.Join(tmp, "ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte(fakeFFmpegScript), 0o755))

	encoders := filepath.Join(tmp, "encoders.txt")
	require.NoError(t, os.WriteFile(encoders, []byte(listing), 0o644))
	out := filepath.Join(tmp, "output.bin")
	require.NoError(t, os.WriteFile(out, output, 0o644))
	args := filepath.Join(tmp, "args.txt")

	t.Setenv("FAKE_FFMPEG_ENCODERS", encoders)
	t.Setenv("FAKE_FFMPEG_OUTPUT", out)
	t.Setenv("FAKE_FFMPEG_ARGS", args)
	t.Setenv("PATH", tmp+string(os.PathListSeparator)+os.Getenv("PATH"))

	return fakeFFmpeg{path: script, argsFile: args}
}

func (f fakeFFmpeg) args(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(f.argsFile)
	require.NoError(t, err)
	return string(b)
}

func TestParseEncoders(t *testing.T) {
	got := parseEncoders([]byte(encoderListing))
	assert.True(t, got["libx264"])
	assert.True(t, got["aac"])
	assert.False(t, got["libfdk_aac"])
	assert.False(t, got["V....."], "legend lines must be ignored")
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name      string
		listing   string
		wantAudio string
		wantErr   error
	}{
		{name: "native aac", listing: encoderListing, wantAudio: "aac"},
		{
			name:      "prefers fdk",
			listing:   encoderListing + " A....D libfdk_aac           Fraunhofer FDK AAC (codec aac)\n",
			wantAudio: "libfdk_aac",
		},
		{
			name:    "missing x264",
			listing: strings.ReplaceAll(encoderListing, "libx264 ", "libx265 "),
			wantErr: ErrVideoEncoderNotFound,
		},
		{
			name:    "missing aac",
			listing: strings.ReplaceAll(encoderListing, " aac ", " mp2 "),
			wantErr: ErrAudioEncoderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			installFakeFFmpeg(t, nil, tt.listing)
			tc, err := Inspect(context.Background(), "ffmpeg")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "libx264", tc.VideoEncoder)
			assert.Equal(t, tt.wantAudio, tc.AudioEncoder)
			assert.True(t, filepath.IsAbs(tc.Path))
		})
	}
}

func TestInspectMissingBinary(t *testing.T) {
	_, err := Inspect(context.Background(), filepath.Join(t.TempDir(), "no-such-ffmpeg"))
	assert.Error(t, err)
}

func TestVideoArgsCarryFixedConfiguration(t *testing.T) {
	p := DefaultVideoParams(1920, 1080)
	args := strings.Join(append(p.inputArgs(), p.encodeArgs()...), " ")

	for _, want := range []string{
		"-pix_fmt yuv420p", "-s 1920x1080", "-c:v libx264", "-g 4096", "-bf 0",
		"-colorspace bt709", "-color_range pc", "-color_primaries bt709", "-color_trc bt709",
		"-me_range 16", "-qmin 10", "-qmax 51", "-qdiff 4", "-qcomp 0.6",
		"-preset medium", "-tune zerolatency", "-level 4.2", "-profile:v high",
		"-refs 1", "-crf 15", "aud=1",
	} {
		assert.Contains(t, args, want)
	}
	assert.Equal(t, int64(16666), p.FrameDuration())
}

func TestAudioArgsCarryFixedConfiguration(t *testing.T) {
	p := DefaultAudioParams()
	args := strings.Join(append(p.inputArgs(), p.encodeArgs("aac")...), " ")

	assert.Contains(t, args, "-f s16le -ar 48000 -ac 2 -i pipe:0")
	assert.Contains(t, args, "-c:a aac")
	assert.Contains(t, args, "-f adts")
	assert.Equal(t, int64(21333), p.FrameDuration())
}

func TestAccessUnitSplitter(t *testing.T) {
	au1 := annexB(testAUD, testSPS, testPPS, testIDR)
	au2 := annexB(testAUD, testP)
	au3 := annexB(testAUD, testP)
	stream := append(append(append([]byte{}, au1...), au2...), au3...)

	for _, chunk := range []int{1, 3, 7, len(stream)} {
		t.Run(fmt.Sprintf("chunk_%d", chunk), func(t *testing.T) {
			var s accessUnitSplitter
			var units [][]byte
			for off := 0; off < len(stream); off += chunk {
				end := off + chunk
				if end > len(stream) {
					end = len(stream)
				}
				units = append(units, s.Push(stream[off:end])...)
			}
			if last := s.Flush(); last != nil {
				units = append(units, last)
			}

			require.Len(t, units, 3)
			assert.Equal(t, au1, units[0])
			assert.Equal(t, au2, units[1])
			assert.Equal(t, au3, units[2])
		})
	}
}

func TestParameterSetsAndAVCC(t *testing.T) {
	nalus, err := SplitAccessUnit(annexB(testAUD, testSPS, testPPS, testIDR))
	require.NoError(t, err)
	assert.True(t, IsKeyFrame(nalus))

	sps, pps := ParameterSets(nalus)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	avcc, err := BuildAVCC(sps, pps)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), avcc[0])
	assert.Equal(t, byte(0x64), avcc[1], "profile_idc")
	assert.Equal(t, byte(0x2A), avcc[3], "level_idc")

	gotSPS, gotPPS, ok := ParseAVCC(avcc)
	require.True(t, ok)
	assert.Equal(t, testSPS, gotSPS)
	assert.Equal(t, testPPS, gotPPS)

	_, err = BuildAVCC(nil, pps)
	assert.Error(t, err)

	nalus, err = SplitAccessUnit(annexB(testAUD, testP))
	require.NoError(t, err)
	assert.False(t, IsKeyFrame(nalus))
}

func receiveAll(t *testing.T, receive func() (media.Packet, error)) ([]media.Packet, error) {
	t.Helper()
	var pkts []media.Packet
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := receive()
		if errors.Is(err, ErrAgain) {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err != nil {
			return pkts, err
		}
		pkts = append(pkts, p)
	}
	t.Fatal("encoder never reported end of stream")
	return nil, nil
}

func TestVideoEncoderPairsAccessUnitsWithTimestamps(t *testing.T) {
	output := annexB(testAUD, testSPS, testPPS, testIDR)
	output = append(output, annexB(testAUD, testP)...)
	output = append(output, annexB(testAUD, testP)...)
	fake := installFakeFFmpeg(t, output, encoderListing)

	params := DefaultVideoParams(16, 8)
	enc, err := NewVideoEncoder(Toolchain{Path: fake.path, VideoEncoder: "libx264"}, params, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f := media.NewPlanarFrame(16, 8)
		f.PTS = int64(i) * 16666
		require.NoError(t, enc.SendFrame(f))
	}
	assert.Error(t, enc.SendFrame(media.NewPlanarFrame(32, 8)))
	require.NoError(t, enc.Close())

	pkts, err := receiveAll(t, enc.ReceivePacket)
	assert.ErrorIs(t, err, ErrClosed)
	require.Len(t, pkts, 3)
	for i, p := range pkts {
		assert.Equal(t, media.Video, p.Kind)
		assert.Equal(t, int64(i)*16666, p.PTS)
		assert.Equal(t, p.PTS, p.DTS)
		assert.Equal(t, int64(16666), p.Duration)
		assert.Equal(t, i == 0, p.KeyFrame)
	}
	assert.Contains(t, fake.args(t), "-s 16x8")
	assert.ErrorIs(t, enc.SendFrame(media.NewPlanarFrame(16, 8)), ErrClosed)
}

func TestNewVideoEncoderRejectsOddSize(t *testing.T) {
	_, err := NewVideoEncoder(Toolchain{Path: "ffmpeg"}, DefaultVideoParams(15, 8), nil)
	assert.Error(t, err)
}

func TestAudioEncoderMapsFramesToChunkTimestamps(t *testing.T) {
	var output []byte
	for i := 0; i < 3; i++ {
		output = append(output, adtsFrame([]byte{0x21, 0x10, byte(i), 0x05})...)
	}
	fake := installFakeFFmpeg(t, output, encoderListing)

	enc, err := NewAudioEncoder(Toolchain{Path: fake.path, AudioEncoder: "aac"}, DefaultAudioParams(), nil)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		require.NoError(t, enc.SendChunk(media.AudioChunk{
			PTS:     int64(i) * 10_000,
			Samples: make([]byte, media.ChunkBytes),
		}))
	}
	assert.Error(t, enc.SendChunk(media.AudioChunk{Samples: make([]byte, 3)}))
	require.NoError(t, enc.Close())

	pkts, err := receiveAll(t, enc.ReceivePacket)
	assert.ErrorIs(t, err, ErrClosed)
	require.Len(t, pkts, 3)

	assert.Equal(t, int64(0), pkts[0].PTS)
	assert.Equal(t, int64(21_333), pkts[1].PTS)
	assert.Equal(t, int64(42_667), pkts[2].PTS)
	for i, p := range pkts {
		assert.Equal(t, media.Audio, p.Kind)
		assert.Equal(t, []byte{0x21, 0x10, byte(i), 0x05}, p.Data)
		assert.Equal(t, int64(21_333), p.Duration)
	}
	assert.Contains(t, fake.args(t), "-c:a aac")
}

func TestReadADTSFrameRejectsGarbage(t *testing.T) {
	_, err := readADTSFrame(bytes.NewReader([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}))
	assert.Error(t, err)
}

func TestSampleClock(t *testing.T) {
	c := newSampleClock(48000, media.MicrosecondTimeBase)
	_, ok := c.at(0)
	assert.False(t, ok)

	c.add(1_000, 480)
	c.add(12_000, 480)

	pts, ok := c.at(0)
	require.True(t, ok)
	assert.Equal(t, int64(1_000), pts)

	pts, _ = c.at(480)
	assert.Equal(t, int64(12_000), pts)

	pts, _ = c.at(960)
	assert.Equal(t, int64(22_000), pts, "extrapolates past the last chunk")
}

func TestSampleClockBurstStampsStayMonotonic(t *testing.T) {
	c := newSampleClock(48000, media.MicrosecondTimeBase)
	// 40 chunks read from the pipe in one go, stamped 1µs apart
	for i := 0; i < 40; i++ {
		c.add(int64(1_000+i), 480)
	}

	var prev int64 = -1
	for k := int64(0); k*1024 < 40*480; k++ {
		pts, ok := c.at(k * 1024)
		require.True(t, ok)
		assert.GreaterOrEqual(t, pts, prev, "frame %d", k)
		prev = pts
	}

	c2 := newSampleClock(48000, media.MicrosecondTimeBase)
	for i := 0; i < 40; i++ {
		c2.add(int64(1_000+i), 480)
	}
	for k := int64(0); k < 18; k++ {
		pts, _ := c2.at(k * 1024)
		assert.Equal(t, int64(1_000)+media.Rescale(k*1024, media.Rational{Num: 1, Den: 48000}, media.MicrosecondTimeBase), pts, "frame %d follows the sample count", k)
	}
}

func TestSampleClockReanchorsAfterGap(t *testing.T) {
	c := newSampleClock(48000, media.MicrosecondTimeBase)
	c.add(0, 480)
	c.add(10_000, 480)
	// capture stalled for half a second
	c.add(520_000, 480)

	pts, _ := c.at(0)
	assert.Equal(t, int64(0), pts)
	pts, _ = c.at(960)
	assert.Equal(t, int64(520_000), pts)
	pts, _ = c.at(1440)
	assert.Equal(t, int64(530_000), pts)
}

func TestDescribeAudio(t *testing.T) {
	d, err := DescribeAudio(DefaultAudioParams())
	require.NoError(t, err)
	assert.Equal(t, AAC, d.Codec)
	assert.Equal(t, media.Audio, d.Kind)
	assert.Equal(t, []byte{0x11, 0x90}, d.Extradata)
}

func TestDescribeVideo(t *testing.T) {
	fake := installFakeFFmpeg(t, annexB(testAUD, testSPS, testPPS, testIDR), encoderListing)

	d, err := DescribeVideo(context.Background(), Toolchain{Path: fake.path}, DefaultVideoParams(64, 32))
	require.NoError(t, err)
	assert.Equal(t, H264, d.Codec)
	assert.Equal(t, 64, d.Width)
	assert.Equal(t, 32, d.Height)
	assert.Equal(t, testSPS, d.SPS)
	assert.Equal(t, testPPS, d.PPS)
	assert.Contains(t, fake.args(t), "-frames:v 1")
}

func TestDescribeVideoWithoutParameterSets(t *testing.T) {
	fake := installFakeFFmpeg(t, annexB(testAUD, testP), encoderListing)
	_, err := DescribeVideo(context.Background(), Toolchain{Path: fake.path}, DefaultVideoParams(64, 32))
	assert.Error(t, err)
}
