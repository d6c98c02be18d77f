package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for searchveil.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searchveil",
		Short: "Privacy front end for web search",
		Long: `searchveil proxies web searches. Result pages are fetched upstream with a
neutral identity, cleaned of ads, tracking parameters and volatile markup,
and every link, image and stylesheet is relinked through encrypted,
session-bound tokens.

Configuration comes from SEARCHVEIL_* environment variables and an optional
.env file in the working directory.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewRewriteCmd())
	cmd.AddCommand(NewShieldCmd())
	cmd.AddCommand(NewUnshieldCmd())
	cmd.AddCommand(NewKeygenCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
