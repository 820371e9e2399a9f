package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// cacheCmd groups video cache subcommands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the video cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := app.Cache()
		if err != nil {
			return err
		}
		stats := cache.Stats()

		limit := "unbounded"
		if stats.MaxBytes > 0 {
			limit = humanize.IBytes(uint64(stats.MaxBytes))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d videos, %s of %s\n",
			stats.Entries, humanize.IBytes(uint64(stats.Bytes)), limit)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached videos",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := app.Cache()
		if err != nil {
			return err
		}
		if err := cache.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
