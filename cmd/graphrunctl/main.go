// Command graphrunctl is a thin operator CLI around the checkpoint store
// adapters: inspect a persisted graph run, or generate a fresh checkpoint id.
// It never shapes graphs — graph structure stays a Go-level build API.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.WithField("component", "graphrunctl")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "graphrunctl",
		Short: "Operator CLI for graphrun checkpoint stores",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")

	root.AddCommand(newCheckpointCmd())
	root.AddCommand(newNewIDCmd())

	return root
}
