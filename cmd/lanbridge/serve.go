package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/1ureka/lanbridge/internal/config"
	"github.com/1ureka/lanbridge/internal/control"
	"github.com/1ureka/lanbridge/internal/metrics"
	"github.com/1ureka/lanbridge/internal/supervisor"
	"github.com/1ureka/lanbridge/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a supervisor driven over the WebSocket control surface",
	Long: `Start the control server and wait for connect/disconnect commands on /ws.
The current status is available as JSON on /status and relay counters on
/metrics. When a peer is configured, a session towards it is started at once.

Examples:
  lanbridge serve
  lanbridge serve --listen 127.0.0.1:7900 --token s3cret
  lanbridge serve -c /etc/lanbridge/lanbridge.yaml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "control server address (default 127.0.0.1:7900)")
	serveCmd.Flags().String("token", "", "require ?token= on /ws and /status")
	flagKeys["listen"] = "control.listen"
	flagKeys["token"] = "control.token"
}

func runServe(ctx context.Context, c *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sup := supervisor.New(supervisor.Settings{
		BindAddr:  c.Bind,
		VirtualIP: c.VirtualIP,
		Options:   sessionOptions(c),
	})

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	srv := control.NewServer(sup, control.Options{
		Addr:    c.Control.Listen,
		Token:   c.Control.Token,
		Metrics: metrics.Handler(metrics.NewRegistry(sup.ObserveConnected)),
	})
	if err := srv.Start(); err != nil {
		cancel()
		<-supDone
		return err
	}

	startStats(ctx)

	if c.Peer != "" {
		if err := sup.Connect(ctx, c.Peer, c.PeerPort); err != nil {
			util.LogWarning("initial connect failed: %v", err)
		}
	}

	<-ctx.Done()
	util.LogInfo("shutting down")

	if err := srv.Stop(context.Background()); err != nil {
		util.LogWarning("%v", err)
	}
	<-supDone
	return nil
}
