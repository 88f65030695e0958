// Command ctx is ContextFS's command surface (spec.md §6): ls, stats, cat,
// pin, save, compact, search, timeline, get, traces, trace, gc, reindex,
// plus a serve subcommand hosting the stdio RPC tool server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"contextfs/internal/cerrors"
	"contextfs/internal/workspace"
)

var (
	workspaceDir string
	jsonOutput   bool
)

var rootCmd = &cobra.Command{
	Use:   "ctx",
	Short: "ContextFS: per-workspace conversational memory store",
	Long: `ctx manages a workspace's ContextFS memory store: the pinned
constraints, rolling summary, hot and archived turn logs, derived
lexical+vector index, and the retrieval layer built on top of them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit a single JSON object instead of text")

	rootCmd.AddCommand(
		lsCmd,
		statsCmd,
		catCmd,
		pinCmd,
		saveCmd,
		compactCmd,
		searchCmd,
		timelineCmd,
		getCmd,
		tracesCmd,
		traceCmd,
		gcCmd,
		reindexCmd,
		serveCmd,
	)
}

func bootEngine() (*workspace.Engine, error) {
	dir := workspaceDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, cerrors.Internal(err, "ctx: getwd")
		}
		dir = wd
	}
	return workspace.Boot(dir)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ce := cerrors.As(err)
		fmt.Fprintln(os.Stderr, ce.Error())
		os.Exit(cerrors.ExitCode(ce))
	}
}
