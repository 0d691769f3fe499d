package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bassista/go_reel/internal/ledger"
	"github.com/bassista/go_reel/internal/repository"
)

func newDownloadsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "downloads",
		Aliases: []string{"dl"},
		Short:   "Manage offline downloads",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List downloaded titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []repository.DownloadRecord
			if _, err := newAPIClient(g.serverURL, g.timeout).do(cmd.Context(), http.MethodGet, "/downloads", nil, &records); err != nil {
				return err
			}
			return printDownloads(cmd.OutOrStdout(), records)
		},
	}

	var quality string
	addCmd := &cobra.Command{
		Use:   "add <movie-id>",
		Short: "Download a title for offline viewing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid movie id %q", args[0])
			}
			req := map[string]any{"movieId": id}
			if quality != "" {
				req["quality"] = quality
			}
			var rec repository.DownloadRecord
			status, err := newAPIClient(g.serverURL, g.timeout).do(cmd.Context(), http.MethodPost, "/download", req, &rec)
			if err != nil {
				return err
			}
			if status == http.StatusCreated {
				fmt.Fprintf(cmd.OutOrStdout(), "Downloading movie %d at %s (%.2f GB).\n", rec.MovieID, rec.Quality, rec.SizeGB)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Movie %d is already downloaded at %s.\n", rec.MovieID, rec.Quality)
			}
			return nil
		},
	}
	addCmd.Flags().StringVarP(&quality, "quality", "q", "", "Good, Better or Best (default: the download settings)")

	removeCmd := &cobra.Command{
		Use:     "remove <movie-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a downloaded title",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newAPIClient(g.serverURL, g.timeout).do(cmd.Context(), http.MethodDelete, "/download/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed movie %s.\n", args[0])
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every download and empty the video store",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Cleared int `json:"cleared"`
			}
			if _, err := newAPIClient(g.serverURL, g.timeout).do(cmd.Context(), http.MethodPost, "/downloads/clear", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d downloads.\n", out.Cleared)
			return nil
		},
	}

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show how much storage downloads take",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Count       int     `json:"count"`
				TotalSizeGB float64 `json:"totalSizeGb"`
			}
			if _, err := newAPIClient(g.serverURL, g.timeout).do(cmd.Context(), http.MethodGet, "/downloads/usage", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Titles: %d\nSize:   %.2f GB\n", out.Count, out.TotalSizeGB)
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every download against the worker's video store",
		RunE: func(cmd *cobra.Command, args []string) error {
			var results []ledger.Verification
			if _, err := newAPIClient(g.serverURL, g.timeout).do(cmd.Context(), http.MethodGet, "/downloads/verify", nil, &results); err != nil {
				return err
			}
			return printVerifications(cmd.OutOrStdout(), results)
		},
	}

	cmd.AddCommand(listCmd, addCmd, removeCmd, clearCmd, usageCmd, verifyCmd)
	return cmd
}

func printDownloads(out io.Writer, records []repository.DownloadRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No downloads.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MOVIE\tQUALITY\tSIZE\tDOWNLOADED")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%.2f GB\t%s\n", r.MovieID, r.Quality, r.SizeGB, humanize.Time(time.UnixMilli(r.CreatedAt)))
	}
	return w.Flush()
}

func printVerifications(out io.Writer, results []ledger.Verification) error {
	if len(results) == 0 {
		fmt.Fprintln(out, "No downloads.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MOVIE\tQUALITY\tSTATUS\tVIDEO")
	for _, r := range results {
		status := r.Status
		if r.Error != "" {
			status += " (" + r.Error + ")"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.MovieID, r.Quality, status, r.VideoURL)
	}
	return w.Flush()
}
