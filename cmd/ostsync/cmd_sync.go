package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/ostsync/pkg/config"
	"github.com/odvcencio/ostsync/pkg/pipeline"
	"github.com/odvcencio/ostsync/pkg/remote"
	"github.com/spf13/cobra"
)

func newSyncCmd(g *globalFlags) *cobra.Command {
	var (
		mirror   bool
		depth    int
		includes []string
		excludes []string
	)

	cmd := &cobra.Command{
		Use:   "sync <repository> <remote>",
		Short: "Pull refs from a configured remote or URL into a new version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, g, func(ctx context.Context, a *app) error {
				r, err := resolveRemote(a.cfg, args[1])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("depth") {
					r.Depth = depth
				}
				if len(includes) > 0 {
					r.IncludeRefs = includes
				}
				if len(excludes) > 0 {
					r.ExcludeRefs = excludes
				}
				v, err := a.engine.Sync(ctx, args[0], pipeline.RemoteOptions{
					Remote: r,
					Mirror: mirror,
					HTTP: remote.ClientOptions{
						Timeout:     a.cfg.HTTP.Timeout.Duration,
						MaxAttempts: a.cfg.HTTP.MaxAttempts,
						Backoff:     a.cfg.HTTP.Backoff.Duration,
					},
				})
				if err != nil {
					return err
				}
				printVersion(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&mirror, "mirror", false, "make the version hold exactly the remote's refs")
	cmd.Flags().IntVar(&depth, "depth", 0, "ancestors to follow past each head (-1 for all)")
	cmd.Flags().StringSliceVar(&includes, "include", nil, "ref patterns to sync")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "ref patterns to skip")
	return cmd
}

// resolveRemote looks name up in the config, accepting a bare URL too.
func resolveRemote(cfg *config.Config, name string) (config.Remote, error) {
	if r, ok := cfg.Remote(name); ok {
		return r, nil
	}
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return config.Remote{Name: "origin", URL: name}, nil
	}
	return config.Remote{}, fmt.Errorf("unknown remote %q", name)
}
