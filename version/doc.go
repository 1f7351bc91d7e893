// Package version provides build version information for the voxpipe
// service.
//
// Version, git commit, branch, and build time are set at compile time
// via -ldflags:
//
//	go build -ldflags "-X github.com/skillsenselab/voxpipe/version.Version=1.0.0"
package version
