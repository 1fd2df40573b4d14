package codec

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/asgeir/slickscreen/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/pkg/errors"
)

// DescribeAudio returns the stream descriptor of an AAC-LC stream encoded
// with params.
func DescribeAudio(params AudioParams) (Descriptor, error) {
	asc := mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   params.SampleRate,
		ChannelCount: params.Channels,
	}
	extradata, err := asc.Marshal()
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "failed to build AudioSpecificConfig")
	}
	return Descriptor{
		Kind:       media.Audio,
		Codec:      AAC,
		TimeBase:   params.TimeBase,
		SampleRate: params.SampleRate,
		Channels:   params.Channels,
		Extradata:  extradata,
	}, nil
}

// VideoDescriptor returns the descriptor of an H.264 stream with the given
// parameter sets.
func VideoDescriptor(params VideoParams, sps, pps []byte) (Descriptor, error) {
	avcc, err := BuildAVCC(sps, pps)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Kind:      media.Video,
		Codec:     H264,
		TimeBase:  params.TimeBase,
		Width:     params.Width,
		Height:    params.Height,
		Extradata: avcc,
		SPS:       sps,
		PPS:       pps,
	}, nil
}

// DescribeVideo opens a throwaway encoder with params, encodes one black
// picture and reads the parameter sets it produces. The recording encoder
// uses identical settings, so its stream matches this descriptor.
func DescribeVideo(ctx context.Context, tc Toolchain, params VideoParams) (Descriptor, error) {
	frame := media.NewPlanarFrame(params.Width, params.Height)
	for i := range frame.U {
		frame.U[i] = 128
		frame.V[i] = 128
	}

	args := append(baseArgs(), params.inputArgs()...)
	args = append(args, "-frames:v", "1")
	args = append(args, params.encodeArgs()...)

	cmd := exec.CommandContext(ctx, tc.Path, args...)
	cmd.Stdin = bytes.NewReader(frame.AppendTo(nil))
	var stderr tailBuffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Descriptor{}, errors.Wrapf(err, "failed to query video encoder: %s", stderr.String())
	}

	nalus, err := SplitAccessUnit(out)
	if err != nil {
		return Descriptor{}, err
	}
	sps, pps := ParameterSets(nalus)
	if sps == nil || pps == nil {
		return Descriptor{}, errors.New("video encoder produced no SPS/PPS")
	}
	return VideoDescriptor(params, sps, pps)
}
