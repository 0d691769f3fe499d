package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/config"
)

type storeFlags struct {
	backend string
	path    string
}

// openStore opens the asset store read-only. Flags override the configured
// backend and path.
func openStore(f *storeFlags) (assetcache.Backend, error) {
	kind, path := f.backend, f.path
	if kind == "" || path == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if kind == "" {
			kind = cfg.Store.Backend
		}
		if path == "" {
			path = cfg.Store.Path
		}
	}
	if kind == assetcache.BackendMemory {
		return nil, fmt.Errorf("the %s backend cannot be inspected from another process", kind)
	}
	return assetcache.NewBackendFromConfig(kind, path, 0, true)
}

func newStoreCmd() *cobra.Command {
	f := &storeFlags{}
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the worker's asset store on disk",
	}
	cmd.PersistentFlags().StringVar(&f.backend, "backend", "", "store backend: bolt or sqlite (default: from config)")
	cmd.PersistentFlags().StringVar(&f.path, "path", "", "store file (default: from config)")

	storesCmd := &cobra.Command{
		Use:   "stores",
		Short: "List named stores with their entry count and size",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openStore(f)
			if err != nil {
				return err
			}
			defer b.Close()
			return printStores(cmd.Context(), cmd.OutOrStdout(), b)
		},
	}

	entriesCmd := &cobra.Command{
		Use:   "entries <store>",
		Short: "List the entries of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openStore(f)
			if err != nil {
				return err
			}
			defer b.Close()
			return printEntries(cmd.Context(), cmd.OutOrStdout(), b, args[0])
		},
	}

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show total bytes stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openStore(f)
			if err != nil {
				return err
			}
			defer b.Close()
			total, err := totalUsage(cmd.Context(), b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total: %s\n", humanize.Bytes(uint64(total)))
			return nil
		},
	}

	cmd.AddCommand(storesCmd, entriesCmd, usageCmd)
	return cmd
}

func totalUsage(ctx context.Context, b assetcache.Backend) (int64, error) {
	stores, err := b.Stores(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range stores {
		n, err := b.Usage(ctx, s)
		if err != nil {
			return 0, fmt.Errorf("usage of %s: %w", s, err)
		}
		total += n
	}
	return total, nil
}

func printStores(ctx context.Context, out io.Writer, b assetcache.Backend) error {
	stores, err := b.Stores(ctx)
	if err != nil {
		return err
	}
	if len(stores) == 0 {
		fmt.Fprintln(out, "No stores.")
		return nil
	}
	sort.Strings(stores)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tENTRIES\tSIZE")
	for _, s := range stores {
		keys, err := b.Keys(ctx, s)
		if err != nil {
			return fmt.Errorf("keys of %s: %w", s, err)
		}
		n, err := b.Usage(ctx, s)
		if err != nil {
			return fmt.Errorf("usage of %s: %w", s, err)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", s, len(keys), humanize.Bytes(uint64(n)))
	}
	return w.Flush()
}

func printEntries(ctx context.Context, out io.Writer, b assetcache.Backend, store string) error {
	keys, err := b.Keys(ctx, store)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintf(out, "Store %s is empty.\n", store)
		return nil
	}
	sort.Strings(keys)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE")
	for _, k := range keys {
		n, ok, err := b.EntrySize(ctx, store, k)
		if err != nil {
			return fmt.Errorf("size of %s: %w", k, err)
		}
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", k, humanize.Bytes(uint64(n)))
	}
	return w.Flush()
}
