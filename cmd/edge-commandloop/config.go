package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	commandloop "github.com/st-keller/edge-commandloop"
	"github.com/st-keller/edge-commandloop/transport"
	"github.com/st-keller/edge-commandloop/update"
)

// cliConfig is what the commands read from flags, EDGE_ env vars and the
// optional config file, in that order of precedence.
type cliConfig struct {
	PageURL        string            `mapstructure:"url"`
	Interval       int64             `mapstructure:"interval"`
	LogLevel       string            `mapstructure:"log_level"`
	TLS            tlsConfig         `mapstructure:"tls"`
	Inputs         map[string]string `mapstructure:"inputs"`
	Addr           string            `mapstructure:"addr"`
	RequestLogging bool              `mapstructure:"request_logging"`
}

type tlsConfig struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
	CA   string `mapstructure:"ca"`
}

// flagKeys maps config keys to the flags that may set them. Commands only
// bind the flags they declare.
var flagKeys = map[string]string{
	"url":             "url",
	"interval":        "interval",
	"log_level":       "log-level",
	"tls.cert":        "tls-cert",
	"tls.key":         "tls-key",
	"tls.ca":          "tls-ca",
	"inputs":          "input",
	"addr":            "addr",
	"request_logging": "request-log",
}

func loadConfig(cmd *cobra.Command) (cliConfig, error) {
	v := viper.New()

	v.SetDefault("url", "http://localhost:5000/")
	v.SetDefault("interval", int64(update.DefaultInterval))
	v.SetDefault("log_level", "info")
	v.SetDefault("addr", ":5000")

	v.SetEnvPrefix("EDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cliConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for key, name := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return cliConfig{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	var c cliConfig
	if err := v.Unmarshal(&c); err != nil {
		return cliConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// clientConfig converts the CLI settings into a client config.
func (c cliConfig) clientConfig(logger *slog.Logger) commandloop.Config {
	return commandloop.Config{
		PageURL:         c.PageURL,
		InitialInterval: update.Interval(c.Interval),
		TLS: transport.TLSConfig{
			CertPath: c.TLS.Cert,
			KeyPath:  c.TLS.Key,
			CAPath:   c.TLS.CA,
		},
		Logger: logger,
	}
}

func (c cliConfig) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
