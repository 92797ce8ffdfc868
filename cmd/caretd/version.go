package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/caretd/pkg/bridge"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "caretd %s\n", bridge.Version)
			return err
		},
	}
}
