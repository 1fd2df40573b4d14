package recorder

import (
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/asgeir/slickscreen/internal/worker"
)

type muxKind int

const (
	muxQuit muxKind = iota
	muxAudio
	muxVideo
)

// muxMessage is the muxer actor's inbox type.
type muxMessage struct {
	kind   muxKind
	packet media.Packet
}

func (muxMessage) FromControl(c worker.ControlMessage) muxMessage {
	return muxMessage{kind: muxQuit}
}

func audioPacketMessage(p media.Packet) muxMessage {
	return muxMessage{kind: muxAudio, packet: p}
}

func videoPacketMessage(p media.Packet) muxMessage {
	return muxMessage{kind: muxVideo, packet: p}
}

// audioMessage is the audio encode actor's inbox type.
type audioMessage struct {
	quit  bool
	chunk media.AudioChunk
}

func (audioMessage) FromControl(c worker.ControlMessage) audioMessage {
	return audioMessage{quit: c == worker.Quit}
}

// videoMessage only carries control; frames come from the capturer.
type videoMessage struct {
	quit bool
}

func (videoMessage) FromControl(c worker.ControlMessage) videoMessage {
	return videoMessage{quit: c == worker.Quit}
}
