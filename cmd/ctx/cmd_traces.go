package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"contextfs/internal/cerrors"
)

var tracesTail int

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "list recent retrieval traces, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		tail := tracesTail
		if tail <= 0 {
			tail = eng.Config.TracesTailDefault
		}
		rows := eng.Trace.ReadTraces(tail)
		if jsonOutput {
			return printJSON(map[string]interface{}{"traces": rows})
		}
		for _, tr := range rows {
			fmt.Printf("%s %-10s %-8s %6dms %s\n", tr.TraceID, tr.Command, tr.Mode, tr.DurationMs, tr.Query)
		}
		return nil
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace <trace_id>",
	Short: "show one retrieval trace by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		tr, ok := eng.Trace.FindByID(args[0])
		if !ok {
			return cerrors.NotFound("ctx trace: %q not found", args[0])
		}
		if jsonOutput {
			return printJSON(tr)
		}
		fmt.Printf("%s %s ok=%v mode=%s duration=%dms\nquery: %s\n", tr.TraceID, tr.Command, tr.OK, tr.Mode, tr.DurationMs, tr.Query)
		for _, r := range tr.Ranking {
			fmt.Printf("  %-16s %6.3f %s\n", r.ID, r.Score, r.Summary)
		}
		return nil
	},
}

func init() {
	tracesCmd.Flags().IntVar(&tracesTail, "tail", 0, "max traces to show (default: config tracesTailDefault)")
}
