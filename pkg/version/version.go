// Package version holds the build version, set with
// -ldflags "-X github.com/getpup/pupsourcing-replication/pkg/version.Version=1.2.3".
package version

// Version is the version of the replication coordinator.
var Version = "dev"
