package main

import (
	"encoding/json"
	"fmt"
)

// printJSON marshals v as a single JSON object to stdout (spec.md §6: "the
// result is a single text blob or a single JSON object").
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
