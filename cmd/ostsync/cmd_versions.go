package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newVersionsCmd(g *globalFlags) *cobra.Command {
	deleteVersion := -1

	cmd := &cobra.Command{
		Use:   "versions <repository>",
		Short: "List the versions of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if deleteVersion >= 0 {
				return run(cmd, g, func(ctx context.Context, a *app) error {
					if err := a.catalog.DeleteVersion(args[0], deleteVersion); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s version %d\n", args[0], deleteVersion)
					return nil
				})
			}

			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.close()
			versions, err := a.catalog.Versions(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tCREATED\tUNITS")
			for _, v := range versions {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", v.Number, v.Created.Format("2006-01-02 15:04:05"), v.Len())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&deleteVersion, "delete", -1, "delete this version instead of listing")
	return cmd
}

type versionReport struct {
	Repository string            `yaml:"repository"`
	Version    int               `yaml:"version"`
	Refs       map[string]string `yaml:"refs"`
	Counts     map[string]int    `yaml:"counts"`
	Stored     map[string]int    `yaml:"stored"`
	Content    []unitReport      `yaml:"content,omitempty"`
}

type unitReport struct {
	ID       string `yaml:"id"`
	Variant  string `yaml:"variant"`
	Path     string `yaml:"path"`
	Artifact string `yaml:"artifact,omitempty"`
}

func newShowCmd(g *globalFlags) *cobra.Command {
	var showContent bool

	cmd := &cobra.Command{
		Use:   "show <repository> [version]",
		Short: "Describe a version as YAML",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.close()

			var v *content.Version
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[1])
				}
				v, err = a.catalog.Version(args[0], n)
				if err != nil {
					return err
				}
			} else {
				v, err = a.catalog.Latest(args[0])
				if err != nil {
					return err
				}
			}

			report := describe(a.catalog, v, showContent)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&showContent, "content", false, "list every content unit")
	return cmd
}

func describe(cat *content.Catalog, v *content.Version, units bool) versionReport {
	r := versionReport{
		Repository: v.Repository,
		Version:    v.Number,
		Refs:       map[string]string{},
		Counts:     map[string]int{},
		Stored:     map[string]int{},
	}
	for variant, n := range cat.Count() {
		r.Stored[variant.String()] = n
	}
	for _, u := range cat.Units(v.IDs()) {
		r.Counts[u.Variant().String()]++
		if ref, ok := u.(content.Ref); ok {
			if c, ok := cat.Get(ref.CommitID); ok {
				r.Refs[ref.Name] = string(c.(content.Commit).Checksum)
			}
		}
		if units {
			r.Content = append(r.Content, unitReport{
				ID:       string(u.UnitID()),
				Variant:  u.Variant().String(),
				Path:     u.Path(),
				Artifact: string(u.ArtifactDigest()),
			})
		}
	}
	return r
}
