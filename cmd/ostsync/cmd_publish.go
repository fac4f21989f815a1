package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/odvcencio/ostsync/pkg/content"
	"github.com/odvcencio/ostsync/pkg/publish"
	"github.com/odvcencio/ostsync/pkg/tarball"
	"github.com/spf13/cobra"
)

func newPublishCmd(g *globalFlags) *cobra.Command {
	var (
		number   int
		asTar    bool
		compress string
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "publish <repository> <destination>",
		Short: "Write a version out as an OSTree archive repository",
		Long: `Publish lays out every unit of a version under its relative path so the
destination can be served to OSTree clients. With --tar the repository is
written as a tarball instead of a directory.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCompression(compress)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.close()

			var v *content.Version
			if number >= 0 {
				v, err = a.catalog.Version(args[0], number)
			} else {
				v, err = a.catalog.Latest(args[0])
			}
			if err != nil {
				return err
			}

			var dst billy.Filesystem
			if asTar {
				dst = memfs.New()
			} else {
				if err := os.MkdirAll(args[1], 0o755); err != nil {
					return err
				}
				dst = osfs.New(args[1])
			}
			stats, err := publish.Version(cmd.Context(), dst, a.catalog, a.artifacts, v, publish.Options{Workers: workers, Logger: a.log})
			if err != nil {
				return err
			}
			if asTar {
				f, err := os.Create(args[1])
				if err != nil {
					return err
				}
				if err := tarball.Write(f, dst, "", c); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s version %d: %d files, %d bytes\n", v.Repository, v.Number, stats.Files, stats.Bytes)
			return nil
		},
	}

	cmd.Flags().IntVar(&number, "version", -1, "version to publish (default latest)")
	cmd.Flags().BoolVar(&asTar, "tar", false, "write a tarball instead of a directory")
	cmd.Flags().StringVar(&compress, "compress", "zstd", "tarball compression (none, gzip, zstd)")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent artifact reads")
	return cmd
}

func parseCompression(s string) (tarball.Compression, error) {
	switch s {
	case "none", "":
		return tarball.None, nil
	case "gzip":
		return tarball.Gzip, nil
	case "zstd":
		return tarball.Zstd, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <directory>",
		Short: "Serve a published repository over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), g.verbose, g.logFormat)
			h, err := publish.NewHandler(osfs.New(args[0]), log)
			if err != nil {
				return err
			}
			defer h.Close()

			srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdown)
			}()

			log.Info("serving repository", "dir", args[0], "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
