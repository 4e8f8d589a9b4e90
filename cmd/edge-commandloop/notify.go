package main

import (
	"fmt"

	"github.com/spf13/cobra"

	commandloop "github.com/st-keller/edge-commandloop"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <source-id>",
	Short: "Send one click event for an element.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newOneShotClient(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		if err := client.Notify(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "notified %s\n", args[0])
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "GET a URL with the client's transport and print the JSON body.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newOneShotClient(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		data, err := client.Fetch(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func newOneShotClient(cmd *cobra.Command) (*commandloop.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.logger()
	if err != nil {
		return nil, err
	}
	return commandloop.New(cfg.clientConfig(logger))
}

func init() {
	rootCmd.AddCommand(notifyCmd, fetchCmd)
}
