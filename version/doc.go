// Package version reports the execkit build.
//
// Release builds set the version and commit through -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/execkit/version.Version=v0.3.0" ./cmd/execkit
//
// Unset values fall back to the module and VCS data the Go toolchain embeds.
package version
