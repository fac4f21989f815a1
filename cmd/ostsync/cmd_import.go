package main

import (
	"context"
	"fmt"
	"os"

	"github.com/odvcencio/ostsync/pkg/artifact"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/spf13/cobra"
)

func newImportCmd(g *globalFlags) *cobra.Command {
	var (
		repositoryName string
		ref            string
	)

	cmd := &cobra.Command{
		Use:   "import <repository> <artifact>",
		Short: "Import a stored repository tarball, or only the commits of one ref",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := content.Digest(args[1])
			if _, err := artifact.Parse(d); err != nil {
				return err
			}
			return run(cmd, g, func(ctx context.Context, a *app) error {
				var (
					v   *content.Version
					err error
				)
				if ref != "" {
					v, err = a.engine.ImportCommits(ctx, args[0], d, repositoryName, ref)
				} else {
					v, err = a.engine.ImportAll(ctx, args[0], d, repositoryName)
				}
				if err != nil {
					return err
				}
				printVersion(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&repositoryName, "repository-name", "", "directory holding the repository inside the tarball")
	cmd.Flags().StringVar(&ref, "ref", "", "append only the commits of this ref")
	return cmd
}

func newUploadCmd(g *globalFlags) *cobra.Command {
	var repositoryName string

	cmd := &cobra.Command{
		Use:   "upload <repository> <tarball>",
		Short: "Store a repository tarball and import all of it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			return run(cmd, g, func(ctx context.Context, a *app) error {
				v, err := a.engine.Upload(ctx, args[0], f, repositoryName)
				if err != nil {
					return fmt.Errorf("upload %s: %w", args[1], err)
				}
				printVersion(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&repositoryName, "repository-name", "", "directory holding the repository inside the tarball")
	return cmd
}
