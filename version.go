package main

// Version is stamped at build time:
//
//	go build -ldflags "-X main.Version=1.2.0"
var Version = "dev"

// GetVersion returns the build-time version
func GetVersion() string {
	return Version
}
