// Build info, normally overwritten at build time.

package main

var (
	Version = "v0.1.0"
	GitInfo = "unknown"
)
