package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = newViper()
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("recording.queue_capacity", 100)
	v.SetDefault("recording.frame_interval", 16666*time.Microsecond)
	v.SetDefault("recording.output_dir", defaultOutputDir())
	// -1 selects the primary display
	v.SetDefault("capture.display", -1)
	v.SetDefault("capture.screen_input", "")
	v.SetDefault("capture.audio_format", "")
	v.SetDefault("capture.audio_device", "")
	v.SetDefault("log.format", "text")

	// Environment variables
	v.SetEnvPrefix("SLICK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("ffmpeg.path", "SLICK_FFMPEG", "FFMPEG_PATH")
	v.BindEnv("recording.output_dir", "SLICK_OUTPUT_DIR")
	v.BindEnv("capture.display", "SLICK_DISPLAY")
	v.BindEnv("log.format", "SLICK_LOG_FORMAT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range []string{
		".",
		"$HOME/.slickscreen",
		filepath.Join(xdg.ConfigHome, "slickscreen"),
	} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	return v
}

func defaultOutputDir() string {
	if xdg.UserDirs.Videos != "" {
		return xdg.UserDirs.Videos
	}
	return "."
}

// Load reads the config file. An empty path searches the default
// locations, where a missing file is not an error.
func Load(path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config file %s", path)
		}
		return nil
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// ConfigFileUsed returns the file the configuration was loaded from, if any.
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}

// GetFFmpegPath returns the ffmpeg binary to run.
func GetFFmpegPath() string {
	return v.GetString("ffmpeg.path")
}

// GetQueueCapacity returns the inbox size of every pipeline stage.
func GetQueueCapacity() int {
	return v.GetInt("recording.queue_capacity")
}

// GetFrameInterval returns the target pacing of the video loop.
func GetFrameInterval() time.Duration {
	return v.GetDuration("recording.frame_interval")
}

// GetOutputDir returns where recordings go when no output file is given.
func GetOutputDir() string {
	return v.GetString("recording.output_dir")
}

// GetDisplay returns the display index to capture, or -1 for the primary.
func GetDisplay() int {
	return v.GetInt("capture.display")
}

func GetScreenInput() string {
	return v.GetString("capture.screen_input")
}

func GetAudioFormat() string {
	return v.GetString("capture.audio_format")
}

func GetAudioDevice() string {
	return v.GetString("capture.audio_device")
}

// GetLogFormat returns "text" or "json".
func GetLogFormat() string {
	return v.GetString("log.format")
}
