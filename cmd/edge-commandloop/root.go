package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "edge-commandloop",
	Short:         "Long-poll command loop client for page command channels.",
	Long:          `Polls a page's command channel, dispatches the commands it receives to built-in terminal handlers, and replies when asked.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("url", "http://localhost:5000/", "Page URL whose command channel to use")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("tls-cert", "", "Client certificate for mTLS")
	rootCmd.PersistentFlags().String("tls-key", "", "Client key for mTLS")
	rootCmd.PersistentFlags().String("tls-ca", "", "CA certificate for mTLS")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
