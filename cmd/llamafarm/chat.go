package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Chat with the project's default model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asCurl, _ := cmd.Flags().GetBool("curl")

		m, err := loadProject()
		if err != nil {
			return err
		}
		model, err := m.DefaultModel()
		if err != nil {
			return err
		}

		body, err := json.Marshal(map[string]interface{}{
			"model": model.ModelID,
			"messages": []map[string]string{
				{"role": "user", "content": args[0]},
			},
			"stream": true,
		})
		if err != nil {
			return err
		}

		if asCurl {
			// Print the equivalent request instead of sending it.
			fmt.Printf("curl -N -X POST %s/v1/chat \\\n", flagServerURL)
			fmt.Printf("  -H 'Content-Type: application/json' \\\n")
			fmt.Printf("  -d '%s'\n", body)
			return nil
		}

		ctx := cmd.Context()
		if err := ensureServer(ctx); err != nil {
			return err
		}
		return apiClient().Chat(ctx, body, os.Stdout)
	},
}

func init() {
	chatCmd.Flags().Bool("curl", false, "print the equivalent curl command instead of sending")
}
