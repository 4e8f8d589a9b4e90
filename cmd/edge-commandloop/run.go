package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	commandloop "github.com/st-keller/edge-commandloop"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll a page's command channel until interrupted.",
	Long:  `Runs the poll loop against --url, printing page commands to stdout and answering get_input_data from --input values. A report is printed on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := cfg.logger()
		if err != nil {
			return err
		}

		client, err := commandloop.New(cfg.clientConfig(logger))
		if err != nil {
			return err
		}
		if err := newTerminal(cmd.OutOrStdout(), cfg.Inputs).register(client.Registry()); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		if duration, _ := cmd.Flags().GetDuration("duration"); duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		err = client.Run(ctx)

		printReport(cmd.OutOrStdout(), client.Cycles(), client.Failures(), client.Connectivity().Stats(), client.Logs())

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("poll loop: %w", err)
	},
}

func init() {
	runCmd.Flags().Int64("interval", 50, "Initial poll interval in milliseconds")
	runCmd.Flags().Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	runCmd.Flags().StringToString("input", nil, "Input values returned for get_input_data, as id=value")
	rootCmd.AddCommand(runCmd)
}
