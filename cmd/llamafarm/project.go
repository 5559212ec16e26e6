package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/types"
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a starter project in the current directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		name := filepath.Base(cwd)
		if len(args) == 1 {
			name = args[0]
		}

		m := manifest.Starter(namespace, name)
		if err := m.Write(cwd); err != nil {
			return &types.Failure{Code: types.CodeConfig, Message: err.Error()}
		}
		if err := os.MkdirAll(filepath.Join(cwd, "data"), 0755); err != nil {
			return err
		}

		fmt.Printf("✓ Created %s\n", manifest.Filename)
		fmt.Println("✓ Created data/")
		fmt.Println()
		fmt.Println("Drop documents into data/ and run:")
		fmt.Println("  llamafarm datasets process docs")
		return nil
	},
}

func init() {
	initCmd.Flags().String("namespace", "default", "project namespace")
}

// loadProject reads the manifest from the working directory
func loadProject() (*manifest.Manifest, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(cwd)
	if err != nil {
		return nil, &types.Failure{
			Code:     types.CodeConfig,
			Message:  err.Error(),
			Recovery: []string{"llamafarm init"},
		}
	}
	return m, nil
}

// stateDir is where pidfiles, logs, queues, and stores live
func stateDir() string {
	if dir := os.Getenv("LLAMAFARM_STATE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".llamafarm"
	}
	return filepath.Join(home, ".llamafarm")
}
