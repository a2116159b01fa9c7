package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/ordermatch/internal/matchcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the name search cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show match cache statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := matchcache.Load(cfg.Match.CacheFile)
		formatCacheStats(os.Stdout, c.Path(), c.Stats())

		if listNames, _ := cmd.Flags().GetBool("names"); listNames {
			formatCacheNames(os.Stdout, c)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the match cache file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := matchcache.Clear(cfg.Match.CacheFile); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Cleared %s\n", cfg.Match.CacheFile)
		return nil
	},
}

func init() {
	cacheStatsCmd.Flags().Bool("names", false, "also list every cached name with its match count")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// formatCacheStats writes cache statistics to w.
func formatCacheStats(out io.Writer, path string, s matchcache.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "File:\t%s\n", path)
	_, _ = fmt.Fprintf(w, "Names:\t%d\n", s.Entries)
	_, _ = fmt.Fprintf(w, "  With matches:\t%d\n", s.WithResults)
	_, _ = fmt.Fprintf(w, "  Without matches:\t%d\n", s.Entries-s.WithResults)
	_, _ = fmt.Fprintf(w, "Cached orders:\t%d\n", s.Records)
	_ = w.Flush()
}

// formatCacheNames lists cached names in sorted order with their match counts.
func formatCacheNames(out io.Writer, c *matchcache.Cache) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMATCHES")
	for _, name := range c.Names() {
		result, _ := c.Get(name)
		_, _ = fmt.Fprintf(w, "%s\t%d\n", name, len(result))
	}
	_ = w.Flush()
}
