// Package display renders chain progress and command results for the terminal
// (pterm) or as JSON for scripts.
package display

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/chainable/errors"
)

// ShouldOutputJSON determines if a command should output JSON based on its
// own --json flag or the root persistent one
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}

	if cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json")
	return globalFlag
}

// OutputJSON marshals and prints JSON using display.MarshalJSON
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(data))
	return nil
}
