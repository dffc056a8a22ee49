// Lanbridge CLI entry point.
//
// This tool joins two hosts into one virtual LAN by tunnelling the frames of
// a TAP/TUN interface over UDP. Each side binds a local port, names the
// other side's IP and port, and the two exchange Hello/HelloAck before any
// frame is relayed.
//
// It can be launched interactively (no subcommand), non-interactively with
// `lanbridge up --peer <ip>`, or as a daemon driven over WebSocket with
// `lanbridge serve`.
package main

import (
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/1ureka/lanbridge/internal/util"
)

var version = "dev"

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(util.LogDebug)); err != nil {
		util.LogWarning("failed to set GOMAXPROCS: %v", err)
	}

	err := rootCmd.Execute()
	cleanup()
	if err != nil {
		os.Exit(1)
	}
}
