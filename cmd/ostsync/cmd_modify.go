package main

import (
	"context"

	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newModifyCmd(g *globalFlags) *cobra.Command {
	var (
		add    []string
		remove []string
		base   int
	)

	cmd := &cobra.Command{
		Use:   "modify <repository>",
		Short: "Add or remove refs, commits, config and summary in a new version",
		Long: `Modify seals a new version from a base version. Adding a ref adds its
commit; adding a commit adds everything it reaches. Removing keeps objects
that a remaining commit still reaches. Pass --remove '*' to remove everything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, g, func(ctx context.Context, a *app) error {
				v, err := a.engine.Modify(ctx, args[0], toIDs(add), toIDs(remove), base)
				if err != nil {
					return err
				}
				printVersion(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&add, "add", nil, "content ids to add")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "content ids to remove")
	cmd.Flags().IntVar(&base, "base", pipeline.Latest, "base version (default latest)")
	return cmd
}

func toIDs(in []string) []content.ID {
	out := make([]content.ID, len(in))
	for i, s := range in {
		out[i] = content.ID(s)
	}
	return out
}
