package codec

import (
	"fmt"
	"strconv"
	"time"

	"github.com/asgeir/slickscreen/internal/media"
)

// AudioParams is the fixed AAC configuration.
type AudioParams struct {
	SampleRate   int
	Channels     int
	SampleFormat string
	FrameSize    int
	TimeBase     media.Rational
}

// DefaultAudioParams returns 48kHz stereo packed s16 in, AAC out.
func DefaultAudioParams() AudioParams {
	return AudioParams{
		SampleRate:   media.SampleRate,
		Channels:     media.Channels,
		SampleFormat: "s16",
		FrameSize:    1024,
		TimeBase:     media.MicrosecondTimeBase,
	}
}

// FrameDuration is the length of one AAC frame in TimeBase ticks.
func (p AudioParams) FrameDuration() int64 {
	return media.Rescale(int64(p.FrameSize), media.Rational{Num: 1, Den: int64(p.SampleRate)}, p.TimeBase)
}

func (p AudioParams) inputArgs() []string {
	return []string{
		"-f", p.SampleFormat + "le",
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-i", "pipe:0",
	}
}

func (p AudioParams) encodeArgs(encoder string) []string {
	return []string{
		"-c:a", encoder,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-f", "adts",
		"-flush_packets", "1",
		"pipe:1",
	}
}

// VideoParams is the fixed H.264 configuration. Only the dimensions vary.
type VideoParams struct {
	Width          int
	Height         int
	PixelFormat    string
	TimeBase       media.Rational
	FrameInterval  time.Duration
	GOPSize        int
	MaxBFrames     int
	ColorSpace     string
	ColorRange     string
	ColorPrimaries string
	ColorTRC       string
	MERange        int
	QMin           int
	QMax           int
	QDiff          int
	QCompress      float64
	Preset         string
	Tune           string
	Level          string
	Profile        string
	Refs           int
	CRF            int
}

// DefaultVideoParams returns the recording configuration for a width x
// height capture.
func DefaultVideoParams(width, height int) VideoParams {
	return VideoParams{
		Width:          width,
		Height:         height,
		PixelFormat:    "yuv420p",
		TimeBase:       media.MicrosecondTimeBase,
		FrameInterval:  16666 * time.Microsecond,
		GOPSize:        4096,
		MaxBFrames:     0,
		ColorSpace:     "bt709",
		ColorRange:     "pc",
		ColorPrimaries: "bt709",
		ColorTRC:       "bt709",
		MERange:        16,
		QMin:           10,
		QMax:           51,
		QDiff:          4,
		QCompress:      0.6,
		Preset:         "medium",
		Tune:           "zerolatency",
		Level:          "4.2",
		Profile:        "high",
		Refs:           1,
		CRF:            15,
	}
}

func (p VideoParams) inputArgs() []string {
	rate := float64(time.Second) / float64(p.FrameInterval)
	return []string{
		"-f", "rawvideo",
		"-pix_fmt", p.PixelFormat,
		"-s", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", strconv.FormatFloat(rate, 'f', 3, 64),
		"-i", "pipe:0",
	}
}

func (p VideoParams) encodeArgs() []string {
	return []string{
		"-fps_mode", "passthrough",
		"-c:v", "libx264",
		"-pix_fmt", p.PixelFormat,
		"-g", strconv.Itoa(p.GOPSize),
		"-bf", strconv.Itoa(p.MaxBFrames),
		"-colorspace", p.ColorSpace,
		"-color_range", p.ColorRange,
		"-color_primaries", p.ColorPrimaries,
		"-color_trc", p.ColorTRC,
		"-me_range", strconv.Itoa(p.MERange),
		"-qmin", strconv.Itoa(p.QMin),
		"-qmax", strconv.Itoa(p.QMax),
		"-qdiff", strconv.Itoa(p.QDiff),
		"-qcomp", strconv.FormatFloat(p.QCompress, 'f', -1, 64),
		"-preset", p.Preset,
		"-tune", p.Tune,
		"-level", p.Level,
		"-profile:v", p.Profile,
		"-refs", strconv.Itoa(p.Refs),
		"-crf", strconv.Itoa(p.CRF),
		"-x264-params", "aud=1:repeat-headers=1",
		"-f", "h264",
		"-flush_packets", "1",
		"pipe:1",
	}
}

// FrameDuration is the nominal frame interval in TimeBase ticks.
func (p VideoParams) FrameDuration() int64 {
	return media.Rescale(p.FrameInterval.Microseconds(), media.MicrosecondTimeBase, p.TimeBase)
}

// baseArgs starts every ffmpeg invocation.
func baseArgs() []string {
	return []string{"-nostats", "-hide_banner", "-loglevel", "warning"}
}
