package lib

// Version is the release version, overridden at build time with
// -ldflags "-X github.com/jasonrig/cloudca/lib.Version=<version>".
var Version = "dev"
