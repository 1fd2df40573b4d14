package codec

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Toolchain is the ffmpeg installation the encoders run on.
type Toolchain struct {
	Path         string
	VideoEncoder string
	AudioEncoder string
}

var (
	initOnce   sync.Once
	initResult Toolchain
	initErr    error
)

// Init locates ffmpeg and verifies it ships the required encoders. The
// check runs once per process; later calls return the first result.
func Init(ffmpegPath string) (Toolchain, error) {
	initOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		initResult, initErr = Inspect(ctx, ffmpegPath)
	})
	return initResult, initErr
}

// Inspect checks the ffmpeg binary at ffmpegPath without caching.
func Inspect(ctx context.Context, ffmpegPath string) (Toolchain, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	path, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return Toolchain{}, errors.Wrapf(err, "ffmpeg not found at %q", ffmpegPath)
	}

	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output()
	if err != nil {
		return Toolchain{}, errors.Wrap(err, "failed to list ffmpeg encoders")
	}

	encoders := parseEncoders(out)
	tc := Toolchain{Path: path}

	if !encoders["libx264"] {
		return Toolchain{}, ErrVideoEncoderNotFound
	}
	tc.VideoEncoder = "libx264"

	switch {
	case encoders["libfdk_aac"]:
		tc.AudioEncoder = "libfdk_aac"
	case encoders["aac"]:
		tc.AudioEncoder = "aac"
	default:
		return Toolchain{}, ErrAudioEncoderNotFound
	}

	return tc, nil
}

// parseEncoders reads the table printed by `ffmpeg -encoders`. Entries
// follow a " ------" separator line and look like " V....D libx264 ...".
func parseEncoders(out []byte) map[string]bool {
	result := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inTable := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		result[fields[1]] = true
	}
	return result
}
