package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide relay counter.
var Stats = &stats{}

type stats struct {
	Sessions     atomic.Int64 // bridge sessions started since process start
	FramesOut    atomic.Int64 // frames relayed interface -> peer
	FramesIn     atomic.Int64 // frames relayed peer -> interface
	BytesSent    atomic.Int64 // datagram bytes written to the socket
	BytesRecv    atomic.Int64 // datagram bytes read from the socket
	Dropped      atomic.Int64 // frames dropped while not connected
	Unauthorized atomic.Int64 // datagrams from addresses other than the peer
	Malformed    atomic.Int64 // datagrams that failed to decode
}

func (s *stats) AddSession()      { s.Sessions.Add(1) }
func (s *stats) AddFrameOut()     { s.FramesOut.Add(1) }
func (s *stats) AddFrameIn()      { s.FramesIn.Add(1) }
func (s *stats) AddSent(n int)    { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)    { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddDropped()      { s.Dropped.Add(1) }
func (s *stats) AddUnauthorized() { s.Unauthorized.Add(1) }
func (s *stats) AddMalformed()    { s.Malformed.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// DefaultStatsInterval is the reporting period used when none is configured.
const DefaultStatsInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs relay statistics every
// interval while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevOut, prevIn, prevDropped int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				out := Stats.FramesOut.Load()
				in := Stats.FramesIn.Load()
				dropped := Stats.Dropped.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				outF := out - prevOut
				inF := in - prevIn
				dropF := dropped - prevDropped

				if outF > 0 || inF > 0 || dropF > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inF, outF, dropF))
				}

				prevSent = sent
				prevRecv = recv
				prevOut = out
				prevIn = in
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inF, outF, dropF int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Frames: %d↓ %d↑ | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		inF,
		outF,
		dropF,
	)
}
