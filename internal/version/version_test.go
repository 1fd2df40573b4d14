package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientInfo(t *testing.T) {
	old := BuildTime
	t.Cleanup(func() { BuildTime = old })

	BuildTime = "2026-03-01T10:20:30Z"
	info := ClientInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, "Sun Mar 1 10:20:30 2026", info.FormattedTime)

	BuildTime = "yesterday"
	assert.Equal(t, "yesterday", ClientInfo().FormattedTime)
}
