// Package config holds build metadata stamped into CareAlert binaries.
package config

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/good-yellow-bee/carealert/pkg/config.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Binary    string `json:"binary"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns build information for the named binary.
func GetBuildInfo(binary string) BuildInfo {
	return BuildInfo{
		Binary:    binary,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s %s (%s) built at %s with %s for %s",
		b.Binary, b.Version, b.Commit, b.BuildTime, b.GoVersion, b.Platform)
}

// VersionString is shorthand for GetBuildInfo(binary).String().
func VersionString(binary string) string {
	return GetBuildInfo(binary).String()
}
