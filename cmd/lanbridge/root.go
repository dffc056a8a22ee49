package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/1ureka/lanbridge/internal/bridge"
	"github.com/1ureka/lanbridge/internal/config"
	"github.com/1ureka/lanbridge/internal/util"
)

var (
	configFile string
	debugMode  bool

	v           = viper.New()
	cfg         *config.Config
	logCloser   io.Closer
	stopSignals context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "lanbridge",
	Short: "Join two hosts into one virtual LAN over UDP",
	Long: `Lanbridge creates a TAP (or TUN) interface on each host and relays its frames
to a single peer over UDP. Both sides must name each other; datagrams from any
other address are dropped.

Without a subcommand it starts an interactive menu.

Examples:
  lanbridge                                  # interactive
  lanbridge up --peer 192.168.1.20           # connect and relay until Ctrl+C
  lanbridge serve --listen 127.0.0.1:7900    # WebSocket control surface
  lanbridge config -c lanbridge.yaml         # print the effective configuration`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInteractive(cmd.Context())
	},
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"bind":       "bind",
	"vip":        "virtual_ip",
	"dev":        "device.name",
	"mode":       "device.mode",
	"mtu":        "device.mtu",
	"timeout":    "handshake.timeout",
	"log-level":  "log.level",
	"log-format": "log.format",
	"log-file":   "log.file",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default ./lanbridge.yaml or /etc/lanbridge/lanbridge.yaml)")
	flags.BoolVar(&debugMode, "debug", false, "enable debug logging")

	flags.String("bind", "", "local UDP address, e.g. 0.0.0.0:9000")
	flags.String("vip", "", "virtual IP of this host with prefix, e.g. 10.0.0.1/24")
	flags.String("dev", "", "virtual interface name")
	flags.String("mode", "", "interface mode: tap or tun")
	flags.Int("mtu", 0, "virtual interface MTU")
	flags.Duration("timeout", 0, "handshake timeout")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "", "log format: color or json")
	flags.String("log-file", "", "also write logs to this rotating file")

	rootCmd.AddCommand(upCmd, serveCmd, configCmd)
}

// bindFlags binds every flag in keys that exists in fs to its configuration key.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// loadConfig runs before every command: it merges file, environment and
// flags, then configures logging and the signal-aware context.
func loadConfig(cmd *cobra.Command, _ []string) error {
	bindFlags(cmd.Flags(), flagKeys)
	if debugMode {
		v.Set("log.level", "debug")
	}

	loaded, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	closer, err := util.ConfigureLogging(cfg.LogSettings())
	if err != nil {
		return err
	}
	logCloser = closer

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	stopSignals = stop
	cmd.SetContext(ctx)

	if cmd.Name() != configCmd.Name() {
		pterm.Info.Printfln("Lanbridge v%s", version)
		pterm.Println()
	}
	return nil
}

// cleanup releases what loadConfig acquired.
func cleanup() {
	if stopSignals != nil {
		stopSignals()
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
}

// sessionOptions builds the bridge options shared by every session of this process.
func sessionOptions(c *config.Config) bridge.Options {
	return bridge.Options{
		Device:    c.DeviceSettings(),
		Handshake: c.HandshakeSettings(),
	}
}

func startStats(ctx context.Context) {
	util.StartStatsReporter(ctx, cfg.StatsInterval)
}
