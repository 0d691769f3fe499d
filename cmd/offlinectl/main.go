package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	serverURL string
	workerURL string
	timeout   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "offlinectl",
		Short:         "Inspect and drive the Reel offline media layer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.serverURL, "server", envOr("GO_REEL_SERVER_URL", "http://localhost:8080"), "foreground server URL")
	root.PersistentFlags().StringVar(&g.workerURL, "worker", envOr("GO_REEL_WORKER_URL", "http://localhost:8081"), "worker server URL")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "HTTP request timeout")

	root.AddCommand(
		newDownloadsCmd(g),
		newSettingsCmd(g),
		newProgressCmd(g),
		newWorkerCmd(g),
		newStoreCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
