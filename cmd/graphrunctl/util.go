package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func newNewIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-id",
		Short: "Print a fresh checkpoint/run id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(uuid.NewString())
			return nil
		},
	}
}
