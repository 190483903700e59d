package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stamp(t *testing.T, v, commit, date string) {
	t.Helper()
	oldV, oldC, oldD := Version, GitCommit, BuildDate
	Version, GitCommit, BuildDate = v, commit, date
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldV, oldC, oldD })
}

func TestGetInfo(t *testing.T) {
	stamp(t, "1.4.0", "0123456789abcdef", "2026-10-01")

	info := GetInfo()
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "01234567", info.ShortCommit())
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, "certificate-service/1.4.0", info.Product())
	assert.Equal(t, "certificate-service/1.4.0", UserAgent())
	assert.Equal(t,
		"certificate-service 1.4.0 (commit 01234567, built 2026-10-01, "+runtime.Version()+" "+info.Platform+")",
		info.String())
}

func TestShortCommitKeepsShortValues(t *testing.T) {
	stamp(t, "dev", "unknown", "unknown")
	assert.Equal(t, "unknown", GetInfo().ShortCommit())
	assert.Equal(t, "certificate-service/dev", UserAgent())
}
