package main

import (
	"github.com/Paintersrp/remotelaunch/internal/cli"
	"github.com/Paintersrp/remotelaunch/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
