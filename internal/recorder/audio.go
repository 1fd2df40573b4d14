package recorder

import (
	"errors"
	"log/slog"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/device"
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/asgeir/slickscreen/internal/timeref"
	"github.com/asgeir/slickscreen/internal/worker"
)

// audioPipeline bridges the device callback to the AAC encoder actor.
type audioPipeline struct {
	source device.AudioSource
	worker *worker.Worker[audioMessage]
	logger *slog.Logger
	drops  int64
}

func startAudio(ref timeref.Reference, out worker.Sender[muxMessage], capacity int, params codec.AudioParams, env Environment, logger *slog.Logger) (*audioPipeline, error) {
	logger = logger.With("component", "audio_pipeline")

	enc, err := env.NewAudioEncoder(params)
	if err != nil {
		return nil, setupError(ErrEncoderOpen, err)
	}
	source, err := env.OpenAudio()
	if err != nil {
		enc.Close()
		return nil, setupError(ErrAudioCapture, err)
	}

	w := worker.SpawnWithCapacity(capacity, out, func(out worker.Sender[muxMessage], inbox <-chan audioMessage) {
		defer enc.Close()
		for msg := range inbox {
			if msg.quit {
				return
			}
			if err := enc.SendChunk(msg.chunk); err != nil {
				logger.Error("Audio encoder rejected chunk, stopping audio", "error", err)
				return
			}
			if err := drain(enc.ReceivePacket, audioPacketMessage, out); err != nil {
				logger.Error("Audio pipeline stopped", "error", err)
				return
			}
		}
	})

	p := &audioPipeline{source: source, worker: w, logger: logger}
	inbox := w.Sender()

	// runs on the device goroutine; never blocks
	onChunk := func(samples []byte) {
		chunk := media.AudioChunk{
			PTS:     ref.Now(),
			Samples: append([]byte(nil), samples...),
		}
		if err := inbox.TrySend(audioMessage{chunk: chunk}); err != nil {
			p.drops++
			if p.drops == 1 || p.drops%100 == 0 {
				logger.Warn("Dropping audio chunk", "error", err, "dropped", p.drops)
			}
		}
	}

	if err := source.Start(onChunk); err != nil {
		source.Close()
		w.Stop()
		return nil, setupError(ErrAudioCapture, err)
	}
	return p, nil
}

// stop closes the device first so no callback races the encoder shutdown.
func (p *audioPipeline) stop() error {
	if err := p.source.Close(); err != nil {
		p.logger.Warn("Audio source close failed", "error", err)
	}
	return p.worker.Stop()
}

// drain forwards every packet the encoder has ready. It returns nil once
// the encoder asks for more input.
func drain(receive func() (media.Packet, error), wrap func(media.Packet) muxMessage, out worker.Sender[muxMessage]) error {
	for {
		pkt, err := receive()
		if errors.Is(err, codec.ErrAgain) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := out.Send(wrap(pkt)); err != nil {
			return err
		}
	}
}
