package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/1ureka/lanbridge/internal/device"
	"github.com/1ureka/lanbridge/internal/handshake"
	"github.com/1ureka/lanbridge/internal/util"
)

// EnvPrefix prefixes environment overrides, e.g. LANBRIDGE_DEVICE_MTU.
const EnvPrefix = "LANBRIDGE"

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bind", fmt.Sprintf("0.0.0.0:%d", util.DefaultPort))
	v.SetDefault("peer", "")
	v.SetDefault("peer_port", util.DefaultPort)
	v.SetDefault("virtual_ip", "10.0.0.1/24")
	v.SetDefault("stats_interval", util.DefaultStatsInterval)

	v.SetDefault("device.name", device.DefaultName)
	v.SetDefault("device.mode", string(device.ModeTAP))
	v.SetDefault("device.mtu", device.DefaultMTU)

	v.SetDefault("handshake.timeout", handshake.DefaultTimeout)
	v.SetDefault("handshake.hello_retry", 0)
	v.SetDefault("handshake.keepalive", 0)
	v.SetDefault("handshake.reciprocal_hello", false)

	v.SetDefault("control.listen", "127.0.0.1:7900")
	v.SetDefault("control.token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
}

// Load reads the optional config file at path into v, applies environment
// overrides and defaults, and returns the validated result. Flags bound to v
// before the call take precedence over everything else.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("lanbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lanbridge")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
