// Package codec wraps the H.264 and AAC encoders used by a recording.
package codec

import (
	"errors"

	"github.com/asgeir/slickscreen/internal/media"
)

// ErrAgain is returned by ReceivePacket when the encoder needs more input
// before it can produce another packet.
var ErrAgain = errors.New("codec: resource temporarily unavailable")

var (
	ErrVideoEncoderNotFound = errors.New("codec: H.264 encoder not found")
	ErrAudioEncoderNotFound = errors.New("codec: AAC encoder not found")
	ErrClosed               = errors.New("codec: encoder closed")
)

// ID names the codec of an elementary stream.
type ID string

const (
	H264 ID = "h264"
	AAC  ID = "aac"
)

// Descriptor is what a container needs to know about a stream before the
// header is written.
type Descriptor struct {
	Kind       media.StreamKind
	Codec      ID
	TimeBase   media.Rational
	Width      int
	Height     int
	SampleRate int
	Channels   int
	// Extradata is the avcC record for H.264 or the AudioSpecificConfig
	// for AAC.
	Extradata []byte
	// SPS and PPS are kept unwrapped for containers that carry them
	// in-band.
	SPS []byte
	PPS []byte
}

// AudioEncoder turns timestamped PCM chunks into AAC packets. Callers
// submit one chunk and then call ReceivePacket until it returns ErrAgain.
type AudioEncoder interface {
	SendChunk(chunk media.AudioChunk) error
	ReceivePacket() (media.Packet, error)
	Params() AudioParams
	Close() error
}

// VideoEncoder turns I420 pictures into H.264 access units.
type VideoEncoder interface {
	SendFrame(frame *media.PlanarFrame) error
	ReceivePacket() (media.Packet, error)
	Params() VideoParams
	Close() error
}
