package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/1ureka/lanbridge/internal/bridge"
	"github.com/1ureka/lanbridge/internal/config"
	"github.com/1ureka/lanbridge/internal/util"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Connect to a peer and relay frames until interrupted",
	Long: `Bring the virtual interface up, connect to the peer and relay frames until
Ctrl+C, a handshake timeout or a fatal interface error.

Examples:
  lanbridge up --peer 192.168.1.20
  lanbridge up --peer 192.168.1.20 --peer-port 9100 --vip 10.0.0.2/24`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Peer == "" {
			return errors.New("missing --peer")
		}
		return runUp(cmd.Context(), cfg)
	},
}

func init() {
	upCmd.Flags().String("peer", "", "peer IP address")
	upCmd.Flags().Int("peer-port", 0, "peer UDP port (default 9000)")
	upCmd.Flags().Duration("hello-retry", 0, "resend Hello at this interval while connecting")
	upCmd.Flags().Duration("keepalive", 0, "send Ping at this interval while connected")
	upCmd.Flags().Bool("reciprocal-hello", false, "answer a peer's Hello with HelloAck and a Hello of our own")

	for name, key := range map[string]string{
		"peer":        "peer",
		"peer-port":   "peer_port",
		"hello-retry": "handshake.hello_retry",
		"keepalive":   "handshake.keepalive",

		"reciprocal-hello": "handshake.reciprocal_hello",
	} {
		flagKeys[name] = key
	}
}

// runUp runs a single session in the foreground.
func runUp(ctx context.Context, c *config.Config) error {
	peer, err := util.PeerAddr(c.Peer, c.PeerPort)
	if err != nil {
		util.LogError("Invalid peer IP/port: %s:%d (%v)", c.Peer, c.PeerPort, err)
		return err
	}

	sess, err := bridge.Connect(ctx, bridge.Endpoint{
		BindAddr:  c.Bind,
		PeerAddr:  peer,
		VirtualIP: c.VirtualIP,
	}, sessionOptions(c))
	if err != nil {
		return err
	}

	startStats(ctx)

	<-sess.Done()
	if err := sess.Err(); err != nil {
		util.LogError("bridge stopped: %v", err)
		return err
	}
	util.LogInfo("successfully closed bridge")
	return nil
}
