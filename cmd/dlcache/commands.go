package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/scidata-cache/dlcache"
	"github.com/scidata-cache/dlcache/internal/decompress"
)

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// sourceList is a pflag.Value so repeated --source flags accumulate in
// declaration order without pflag's built-in StringArray's CSV-escaping
// surprises.
type sourceList struct{ values []string }

func (s *sourceList) String() string   { return fmt.Sprint(s.values) }
func (s *sourceList) Type() string     { return "url" }
func (s *sourceList) Set(v string) error {
	s.values = append(s.values, v)
	return nil
}

func newGetCmd() *cobra.Command {
	var noCache, update bool
	var sources sourceList

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "resolve a URL to a local path, downloading if necessary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			onProgress := dlcache.DownloadOptions{
				Cache:       !noCache,
				UpdateCache: update,
				Sources:     sources.values,
			}
			if isTerminal() {
				onProgress.ShowProgress = true
				onProgress.OnProgress = func(written, total int64) {
					if total > 0 {
						fmt.Fprintf(os.Stderr, "\r%s / %s", humanize.Bytes(uint64(written)), humanize.Bytes(uint64(total)))
					} else {
						fmt.Fprintf(os.Stderr, "\r%s", humanize.Bytes(uint64(written)))
					}
				}
			}

			path, err := c.Download(context.Background(), args[0], onProgress)
			if onProgress.ShowProgress {
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not cache the result")
	cmd.Flags().BoolVar(&update, "update", false, "force re-download of an already-cached URL")
	cmd.Flags().VarP(&sources, "source", "s", "candidate source URL (repeatable, tried in order)")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [url-or-hash]",
		Short: "remove a URL, a blob, or the entire cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return c.Clear(target)
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <archive.zip> [url...]",
		Short: "export cached URLs to a portable ZIP archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()
			var urls []string
			if len(args) > 1 {
				urls = args[1:]
			}
			return c.Export(context.Background(), args[0], urls)
		},
	}
}

func newImportCmd() *cobra.Command {
	var update bool
	cmd := &cobra.Command{
		Use:   "import <archive.zip> [url...]",
		Short: "import URLs from a portable ZIP archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()
			var urls []string
			if len(args) > 1 {
				urls = args[1:]
			}
			return c.Import(context.Background(), args[0], urls, update)
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "overwrite already-cached URLs")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var hashes bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "verify cache consistency and list stray files",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.Check(hashes)
			if err != nil {
				return err
			}
			for _, s := range res.Strays {
				fmt.Println(s)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hashes, "hashes", false, "recompute and verify every blob's digest")
	return cmd
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "list cached URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()
			urls, err := c.CachedURLs()
			if err != nil {
				return err
			}
			for _, u := range urls {
				fmt.Println(u)
			}
			return nil
		},
	}
}

func newCatCmd() *cobra.Command {
	var text bool
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "write a cached blob to stdout, transparently decompressing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := decompress.Open(args[0], decompress.Options{Text: text})
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = io.Copy(os.Stdout, r)
			return err
		},
	}
	cmd.Flags().BoolVar(&text, "text", false, "wrap the decoded stream in a text reader")
	return cmd
}

var _ pflag.Value = (*sourceList)(nil)
