package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	info := Info{CommitHash: "a1b2c3d4e5f6", BuildTime: "2026-10-01T12:00:00Z", Version: "dev"}
	assert.Equal(t, "compliq dev (commit a1b2c3d4e5f6, built 2026-10-01T12:00:00Z)", info.String())

	info.Version = "v0.4.0"
	assert.Equal(t, "compliq v0.4.0 (commit a1b2c3d4e5f6, built 2026-10-01T12:00:00Z)", info.String())
	assert.Equal(t, "a1b2c3d", info.Short())
}

func TestShortKeepsShortHashes(t *testing.T) {
	assert.Equal(t, "dev", Get().Short())
	assert.NotEmpty(t, Get().GoVersion)
}

func TestUserAgent(t *testing.T) {
	info := Info{CommitHash: "a1b2c3d4e5f6", Version: "v0.4.0", Platform: "linux/amd64"}
	assert.Equal(t, "compliq/v0.4.0 (a1b2c3d; linux/amd64)", info.UserAgent())

	assert.Regexp(t, `^compliq/dev \(dev; \w+/\w+\)$`, Get().UserAgent())
}
