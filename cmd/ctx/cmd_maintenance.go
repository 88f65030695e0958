package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var compactForce bool

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "run the three-phase hot-to-archive compaction pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		res, err := eng.Compact(context.Background(), compactForce)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		if res.Compacted {
			fmt.Printf("compacted %d turns into the archive; %d remain hot\n", len(res.ArchivedIDs), res.NewHotCount)
		} else {
			fmt.Printf("skipped: %s\n", res.Reason)
		}
		return nil
	},
}

func init() {
	compactCmd.Flags().BoolVar(&compactForce, "force", false, "compact even if below the token threshold")
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "regenerate the manifest and prune orphaned embedding rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		report, err := eng.GC()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}
		fmt.Printf("pruned %v hot + %v archive embedding rows across %v live turns\n",
			report["pruned_hot_embeddings"], report["pruned_archive_embeddings"], report["live_turns"])
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "rebuild the derived lexical+vector index from scratch",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		report, err := eng.Reindex(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}
		fmt.Printf("reindexed: turns=%d vectorRows=%d vectorAvailable=%v reason=%s\n",
			report.Turns, report.VectorRows, report.VectorAvailable, report.Reason)
		return nil
	},
}
