package util

import (
	"fmt"
)

// build info, set with -ldflags
var (
	// Version release version
	Version = "unknown"
	// GitCommit git commit hash
	GitCommit = "unknown"
	// BuildTime utc build time
	BuildTime = "unknown"
)

// PrintVersion print the build info, returns true so callers can exit
func PrintVersion() bool {
	fmt.Println("Version:  ", Version)
	fmt.Println("GitCommit:", GitCommit)
	fmt.Println("BuildTime:", BuildTime)
	return true
}
