package recorder

import (
	"log/slog"
	"os"

	"github.com/asgeir/slickscreen/internal/codec"
	"github.com/asgeir/slickscreen/internal/container"
	"github.com/asgeir/slickscreen/internal/media"
	"github.com/asgeir/slickscreen/internal/worker"
	pkgerrors "github.com/pkg/errors"
)

// muxerActor owns the output container. It is the only goroutine that
// touches the file.
type muxerActor struct {
	worker *worker.Worker[muxMessage]
}

func startMuxer(path string, capacity int, audio, video codec.Descriptor, create ContainerFactory, logger *slog.Logger) (*muxerActor, error) {
	logger = logger.With("component", "muxer")

	mux, err := create(path, logger)
	if err != nil {
		return nil, setupError(ErrContainer, err)
	}
	// a container that never got its streams is closed and removed
	abandon := func(err error) (*muxerActor, error) {
		if cerr := mux.WriteTrailer(); cerr != nil {
			logger.Debug("Closing unused container failed", "error", cerr)
		}
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			logger.Warn("Failed to remove unused output file", "path", path, "error", rerr)
		}
		return nil, setupError(ErrContainer, err)
	}

	audioIndex, err := mux.AddStream(audio)
	if err != nil {
		return abandon(err)
	}
	videoIndex, err := mux.AddStream(video)
	if err != nil {
		return abandon(err)
	}
	for _, index := range []int{audioIndex, videoIndex} {
		if tb := mux.TimeBase(index); !tb.Valid() {
			return abandon(pkgerrors.Errorf("stream %d has invalid time base %s", index, tb))
		}
	}

	if err := mux.WriteHeader(); err != nil {
		logger.Error("Failed to write container header", "error", err)
	}

	write := func(index int, p media.Packet) {
		p.RescaleTS(media.MicrosecondTimeBase, mux.TimeBase(index))
		if err := mux.WriteInterleaved(index, p); err != nil {
			logger.Warn("Packet rejected by container", "stream", index, "pts", p.PTS, "error", err)
		}
	}

	w := worker.SpawnConsumerWithCapacity(capacity, func(inbox <-chan muxMessage) {
		for msg := range inbox {
			switch msg.kind {
			case muxAudio:
				write(audioIndex, msg.packet)
			case muxVideo:
				write(videoIndex, msg.packet)
			case muxQuit:
				if err := mux.WriteTrailer(); err != nil {
					logger.Error("Failed to write container trailer", "error", err)
				}
				return
			}
		}
	})

	return &muxerActor{worker: w}, nil
}

func (m *muxerActor) sender() worker.Sender[muxMessage] {
	return m.worker.Sender()
}

func (m *muxerActor) stop() error {
	return m.worker.Stop()
}
