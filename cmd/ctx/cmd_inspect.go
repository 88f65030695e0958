package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"contextfs/internal/cerrors"
	"contextfs/internal/cli/render"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list the files under the workspace's ContextFS directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		entries, err := os.ReadDir(eng.FS.Dir())
		if err != nil {
			return cerrors.Internal(err, "ctx ls: read dir")
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		if jsonOutput {
			return printJSON(map[string]interface{}{"files": names})
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var catHead int

var catCmd = &cobra.Command{
	Use:   "cat <file>",
	Short: "print one ContextFS file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		name := args[0]
		if !eng.FS.Exists(name) {
			return cerrors.NotFound("ctx cat: %q not found", name)
		}
		text, err := eng.FS.ReadText(name)
		if err != nil {
			return err
		}
		if catHead > 0 && len(text) > catHead {
			text = text[:catHead]
		}

		if jsonOutput {
			return printJSON(map[string]interface{}{"file": name, "text": text})
		}
		fmt.Println(render.Markdown(text))
		return nil
	},
}

func init() {
	catCmd.Flags().IntVar(&catHead, "head", 0, "truncate output to this many bytes")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "show workspace counters and mode settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		st, err := eng.Stats()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		for _, k := range []string{"hot_turns", "archive_turns", "pins", "retrieval_mode", "vector_enabled"} {
			fmt.Printf("%s %v: %v\n", render.Dim("·"), k, st[k])
		}
		return nil
	},
}
