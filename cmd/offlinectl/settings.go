package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bassista/go_reel/internal/repository"
)

func newSettingsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the download settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s repository.Settings
			if _, err := newAPIClient(g.serverURL, g.timeout).do(cmd.Context(), http.MethodGet, "/settings/downloads", nil, &s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Quality:     %s\nAuto-delete: %t\n", s.Quality, s.AutoDelete)
			return nil
		},
	}

	var (
		quality    string
		autoDelete string
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change the download settings; unset flags keep their value",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(g.serverURL, g.timeout)
			var s repository.Settings
			if _, err := client.do(cmd.Context(), http.MethodGet, "/settings/downloads", nil, &s); err != nil {
				return err
			}
			if quality != "" {
				s.Quality = repository.Quality(quality)
			}
			if autoDelete != "" {
				v, err := strconv.ParseBool(autoDelete)
				if err != nil {
					return fmt.Errorf("invalid --auto-delete %q", autoDelete)
				}
				s.AutoDelete = v
			}
			if _, err := client.do(cmd.Context(), http.MethodPut, "/settings/downloads", s, &s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Quality:     %s\nAuto-delete: %t\n", s.Quality, s.AutoDelete)
			return nil
		},
	}
	setCmd.Flags().StringVarP(&quality, "quality", "q", "", "Good, Better or Best")
	setCmd.Flags().StringVar(&autoDelete, "auto-delete", "", "true or false")

	cmd.AddCommand(setCmd)
	return cmd
}

func newProgressCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <movie-id> <percent>",
		Short: "Record watch progress for a title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid percent %q", args[1])
			}
			req := map[string]float64{"progress": pct}
			if _, err := newAPIClient(g.serverURL, g.timeout).do(cmd.Context(), http.MethodPut, "/progress/"+args[0], req, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Movie %s at %.0f%%.\n", args[0], pct)
			return nil
		},
	}
}
