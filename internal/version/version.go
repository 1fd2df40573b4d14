package version

import (
	"runtime"
	"time"
)

// Set at build time via -ldflags
var (
	// Version is the release tag
	Version = "dev"
	// BuildTime is an RFC3339 timestamp
	BuildTime = "unknown"
	// CommitID is the git commit hash
	CommitID = "unknown"
)

func formatBuildTime() string {
	if BuildTime == "unknown" {
		return BuildTime
	}

	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}

	return t.Format("Mon Jan 2 15:04:05 2006")
}

// Info describes the running binary.
type Info struct {
	Version       string `json:"version"`
	GitCommit     string `json:"git_commit"`
	BuildTime     string `json:"build_time"`
	FormattedTime string `json:"-"`
	GoVersion     string `json:"go_version"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
}

// ClientInfo returns the build information of this binary.
func ClientInfo() Info {
	return Info{
		Version:       Version,
		GitCommit:     CommitID,
		BuildTime:     BuildTime,
		FormattedTime: formatBuildTime(),
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}
}
