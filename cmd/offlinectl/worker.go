package main

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/worker"
)

func newWorkerCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "worker",
		Aliases: []string{"sw"},
		Short:   "Inspect and drive the background worker",
	}

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Show the worker lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				State      string `json:"state"`
				ID         string `json:"id"`
				Generation string `json:"generation"`
			}
			if _, err := newAPIClient(g.workerURL, g.timeout).do(cmd.Context(), http.MethodGet, "/sw/state", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "State:      %s\n", out.State)
			if out.ID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Worker:     %s\nGeneration: %s\n", out.ID, out.Generation)
			}
			return nil
		},
	}

	deployCmd := &cobra.Command{
		Use:   "deploy <generation>",
		Short: "Install a new worker generation and activate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				ID    string `json:"id"`
				State string `json:"state"`
			}
			req := map[string]string{"generation": args[0]}
			if _, err := newAPIClient(g.workerURL, g.timeout).do(cmd.Context(), http.MethodPost, "/sw/deploy", req, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Worker %s (%s) is %s.\n", out.ID, args[0], out.State)
			return nil
		},
	}

	var title, body string
	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Deliver a push message to the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := worker.PushPayload{Title: title, Body: body}
			var n worker.Notification
			if _, err := newAPIClient(g.workerURL, g.timeout).do(cmd.Context(), http.MethodPost, "/sw/push", p, &n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Shown: %s: %s\n", n.Title, n.Body)
			return nil
		},
	}
	pushCmd.Flags().StringVar(&title, "title", "", "notification title")
	pushCmd.Flags().StringVar(&body, "body", "", "notification body")

	taskCmd := &cobra.Command{
		Use:   "task [id]",
		Short: "Run a background task now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := worker.TaskRetryFailedVideos
			if len(args) == 1 {
				id = args[0]
			}
			if _, err := newAPIClient(g.workerURL, 0).do(cmd.Context(), http.MethodPost, "/sw/tasks/"+url.PathEscape(id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s done.\n", id)
			return nil
		},
	}

	videoCmd := &cobra.Command{
		Use:   "video <url>",
		Short: "Check whether a video is in the video store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := channel.NewHTTPController(g.workerURL, g.timeout).HasVideo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), "cached")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not cached")
			}
			return nil
		},
	}

	failedCmd := &cobra.Command{
		Use:   "failed",
		Short: "List videos whose last caching attempt failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var urls []string
			if _, err := newAPIClient(g.workerURL, g.timeout).do(cmd.Context(), http.MethodGet, "/sw/videos/failed", nil, &urls); err != nil {
				return err
			}
			if len(urls) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed videos.")
				return nil
			}
			for _, u := range urls {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		},
	}

	clientsCmd := &cobra.Command{
		Use:   "clients",
		Short: "List pages known to the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			var clients []worker.ClientInfo
			if _, err := newAPIClient(g.workerURL, g.timeout).do(cmd.Context(), http.MethodGet, "/sw/clients", nil, &clients); err != nil {
				return err
			}
			if len(clients) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No clients.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tURL\tCONTROLLED")
			for _, c := range clients {
				fmt.Fprintf(w, "%s\t%s\t%t\n", c.ID, c.URL, c.Controlled)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(stateCmd, deployCmd, pushCmd, taskCmd, videoCmd, failedCmd, clientsCmd)
	return cmd
}
