package main

import (
	"fmt"
	"time"

	"github.com/bookvoice/bookvoice/internal/cache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the segment cache",
	Long:  paragraph(fmt.Sprintf("\nShow what the %s holds. Cached segments let repeat conversions skip synthesis entirely.", keyword("segment cache"))),
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		store, dir, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		stats := store.Stats()
		fmt.Println(labelStyle.Render("Location") + dir)
		fmt.Println(labelStyle.Render("Entries") + fmt.Sprintf("%d", stats.Entries))
		fmt.Println(labelStyle.Render("Size") + humanize.Bytes(uint64(stats.Bytes))) //nolint:gosec
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached segment",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		store, dir, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		before := store.Stats()
		if err := store.Clear(); err != nil {
			return fmt.Errorf("unable to clear cache: %w", err)
		}
		fmt.Printf("Removed %d entries (%s) from %s\n",
			before.Entries, humanize.Bytes(uint64(before.Bytes)), dir) //nolint:gosec
		return nil
	},
}

func openCache() (*cache.Store, string, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, "", fmt.Errorf("unable to resolve cache directory: %w", err)
	}
	store, err := cache.New(cache.Options{
		Dir: dir,
		TTL: time.Duration(viper.GetInt("cache.ttl_days")) * 24 * time.Hour,
	})
	if err != nil {
		return nil, "", fmt.Errorf("unable to open cache: %w", err)
	}
	return store, dir, nil
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}
