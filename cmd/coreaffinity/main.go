package main

import (
	"os"

	"github.com/bgp59/coreaffinity"
)

const (
	COMMAND_NAME = "coreaffinity"
)

var mainLog = coreaffinity.NewCompLogger(COMMAND_NAME)

func init() {
	// The build info, based on buildinfo.go:
	coreaffinity.UpdateBuildInfo(Version, GitInfo)
}

func main() {
	mainLog.Debug("Start")
	os.Exit(Execute())
}
