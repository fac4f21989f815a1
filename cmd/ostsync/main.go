package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.1.0-dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "ostsync",
		Short:         "Sync, import and publish versioned OSTree repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (TOML)")
	root.PersistentFlags().StringVar(&g.root, "root", "", "store root, overrides store.root")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newSyncCmd(g))
	root.AddCommand(newImportCmd(g))
	root.AddCommand(newUploadCmd(g))
	root.AddCommand(newModifyCmd(g))
	root.AddCommand(newVersionsCmd(g))
	root.AddCommand(newShowCmd(g))
	root.AddCommand(newPublishCmd(g))
	root.AddCommand(newServeCmd(g))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ostsync %s\n", version)
		},
	}
}
