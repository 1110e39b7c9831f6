// Command dlcache is a command-line driver over the content-addressed
// download cache library.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/scidata-cache/dlcache"
	"github.com/scidata-cache/dlcache/internal/config"
)

var (
	cacheDir     string
	lockAttempts int
	timeoutSecs  int
	workers      int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dlcache",
		Short: "content-addressed download cache for data artifacts",
	}

	defaultDir := "."
	if d, err := os.UserCacheDir(); err == nil {
		defaultDir = filepath.Join(d, "dlcache")
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cacheDir, "cache-dir", defaultDir, "cache root's parent directory")
	flags.IntVar(&lockAttempts, "lock-attempts", config.New().LockAttempts, "number of lock poll attempts before giving up")
	flags.IntVar(&timeoutSecs, "timeout", int(config.New().RemoteTimeout.Seconds()), "remote timeout in seconds")
	flags.IntVar(&workers, "workers", config.New().Workers, "parallel downloader worker count")

	root.AddCommand(
		newGetCmd(),
		newClearCmd(),
		newExportCmd(),
		newImportCmd(),
		newCheckCmd(),
		newLsCmd(),
		newCatCmd(),
	)
	return root
}

func openCache() (*dlcache.Cache, error) {
	return dlcache.Open(cacheDir,
		config.WithLockAttempts(lockAttempts),
		config.WithWorkers(workers),
		config.WithRemoteTimeout(time.Duration(timeoutSecs)*time.Second),
	)
}
