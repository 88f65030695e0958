package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"contextfs/internal/retrieval"
	"contextfs/internal/workspace"
)

var (
	searchK       int
	searchScope   string
	searchSession string
)

var searchCmd = &cobra.Command{
	Use:   "search \"<q>\"",
	Short: "rank the hot+archive pool against a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		res, err := eng.Retrieval.Search(context.Background(), retrieval.SearchInput{
			Query:   args[0],
			K:       searchK,
			Scope:   searchScope,
			Session: resolveSessionFilter(eng, searchSession),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		for _, row := range res.Rows {
			fmt.Printf("%-16s %6.3f  %-9s %s\n", row.ID, row.Score, row.Match, row.Summary)
		}
		return nil
	},
}

var (
	timelineBefore  int
	timelineAfter   int
	timelineSession string
)

var timelineCmd = &cobra.Command{
	Use:   "timeline <id>",
	Short: "show the turns surrounding one id, hot or archived",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		res, err := eng.Retrieval.Timeline(retrieval.TimelineInput{
			AnchorID: args[0],
			Before:   timelineBefore,
			After:    timelineAfter,
			Session:  resolveSessionFilter(eng, timelineSession),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		for _, row := range res.Rows {
			fmt.Printf("%-16s %-20s %s\n", row.ID, row.Ts, row.Summary)
		}
		return nil
	},
}

var (
	getHead    int
	getSession string
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "fetch one full record by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		var head *int
		if cmd.Flags().Changed("head") {
			head = &getHead
		}
		res, err := eng.Retrieval.Get(retrieval.GetInput{
			ID:      args[0],
			Head:    head,
			JSON:    jsonOutput,
			Session: resolveSessionFilter(eng, getSession),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res.JSONPayload)
		}
		fmt.Println(res.Text)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchK, "k", 0, "max results (default: config searchDefaultK)")
	searchCmd.Flags().StringVar(&searchScope, "scope", "all", "all|hot|archive")
	searchCmd.Flags().StringVar(&searchSession, "session", "all", "all|current|<id>")

	timelineCmd.Flags().IntVar(&timelineBefore, "before", -1, "turns before the anchor (default: config)")
	timelineCmd.Flags().IntVar(&timelineAfter, "after", -1, "turns after the anchor (default: config)")
	timelineCmd.Flags().StringVar(&timelineSession, "session", "all", "all|current|<id>")

	getCmd.Flags().IntVar(&getHead, "head", 0, "byte budget, 0 means unbounded (default when omitted: config getDefaultHead)")
	getCmd.Flags().StringVar(&getSession, "session", "all", "all|current|<id>")
}

// resolveSessionFilter maps the CLI's "all|current|<id>" convention onto
// retrieval.SessionFilter: "all" disables the filter, "current" resolves
// to the workspace's state.CurrentSessionID, anything else is taken as an
// explicit session id.
func resolveSessionFilter(eng *workspace.Engine, session string) retrieval.SessionFilter {
	switch session {
	case "", "all":
		return retrieval.SessionFilter{}
	case "current":
		st, err := eng.State.ReadState()
		if err != nil || st.CurrentSessionID == "" {
			return retrieval.SessionFilter{}
		}
		return retrieval.SessionFilter{Mode: "id", SessionID: st.CurrentSessionID}
	default:
		return retrieval.SessionFilter{Mode: "id", SessionID: session}
	}
}
