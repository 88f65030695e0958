package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"contextfs/internal/retrieval"
)

var pinCmd = &cobra.Command{
	Use:   "pin \"<text>\"",
	Short: "add a one-line constraint to pins.md",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		pin, added, err := eng.Pins.Add(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]interface{}{"pin": pin, "added": added})
		}
		if added {
			fmt.Printf("pinned: %s\n", pin.Text)
		} else {
			fmt.Printf("already pinned (deduped): %s\n", pin.Text)
		}
		return nil
	},
}

var (
	saveTitle   string
	saveRole    string
	saveType    string
	saveSession string
)

var saveCmd = &cobra.Command{
	Use:   "save \"<text>\"",
	Short: "write an explicit memory entry to the hot history log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}
		sessionID := saveSession
		if sessionID == "current" {
			sessionID = ""
		}
		res, err := eng.Retrieval.SaveMemory(context.Background(), retrieval.SaveMemoryInput{
			Text:      args[0],
			Title:     saveTitle,
			Role:      saveRole,
			Type:      saveType,
			SessionID: sessionID,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("saved %s: %s\n", res.Record.ID, res.Preview)
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveTitle, "title", "", "optional title folded into the stored text")
	saveCmd.Flags().StringVar(&saveRole, "role", "", "speaker role (default: assistant)")
	saveCmd.Flags().StringVar(&saveType, "type", "", "turn type tag (default: note)")
	saveCmd.Flags().StringVar(&saveSession, "session", "current", "session id, or \"current\"")
}
