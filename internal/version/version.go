// Package version carries the release stamp of the certificate service. The
// stamp shows up in the CLI, the MCP handshake, audit requests and the
// Creator field of every generated PDF.
package version

import (
	"fmt"
	"runtime"
)

// Product names the service in user agents and PDF metadata
const Product = "certificate-service"

// Set with -ldflags "-X github.com/yourorg/certificate-service/internal/version.Version=..."
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info is the release stamp plus the toolchain that produced the binary
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo snapshots the current build
func GetInfo() Info {
	return Info{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// ShortCommit is the first 8 characters of the commit hash
func (i Info) ShortCommit() string {
	if len(i.GitCommit) > 8 {
		return i.GitCommit[:8]
	}
	return i.GitCommit
}

// Product returns "certificate-service/<version>"
func (i Info) Product() string {
	return Product + "/" + i.Version
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)",
		Product, i.Version, i.ShortCommit(), i.BuildDate, i.GoVersion, i.Platform)
}

// UserAgent identifies the service on outbound HTTP requests
func UserAgent() string {
	return GetInfo().Product()
}
