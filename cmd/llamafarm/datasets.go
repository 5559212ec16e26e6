package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/llamafarm/llamafarm/pkg/client"
	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/types"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Manage and process the project's datasets",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured datasets",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadProject()
		if err != nil {
			return err
		}
		if len(m.Datasets) == 0 {
			fmt.Println("No datasets configured.")
			return nil
		}
		fmt.Printf("%-16s %-20s %-12s %s\n", "NAME", "SOURCE", "DATABASE", "STRATEGY")
		for _, ds := range m.Datasets {
			fmt.Printf("%-16s %-20s %-12s %s\n", ds.Name, ds.Source, ds.Database, ds.Strategy)
		}
		return nil
	},
}

var datasetsProcessCmd = &cobra.Command{
	Use:   "process [dataset]",
	Short: "Ingest a dataset into its database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		database, _ := cmd.Flags().GetString("database")

		m, err := loadProject()
		if err != nil {
			return err
		}

		dataset := ""
		if len(args) == 1 {
			dataset = args[0]
		}
		if database == "" {
			database = resolveDatabase(m, dataset)
		}
		if database == "" {
			return &types.Failure{
				Code:    types.CodeConfig,
				Message: "no database resolved: name a dataset or pass --database",
			}
		}

		ctx := cmd.Context()
		if err := ensureServer(ctx); err != nil {
			return err
		}

		c := apiClient()
		taskID, err := c.Ingest(ctx, m.Namespace, m.Name, database, source, dataset)
		if err != nil {
			return err
		}
		fmt.Printf("Processing task %s\n", taskID)

		bar := progressbar.NewOptions(100,
			progressbar.OptionSetDescription("ingesting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		status, err := c.AwaitTask(ctx, taskID, 500*time.Millisecond, func(s *client.TaskStatus) {
			if p, ok := s.Metadata["progress"]; ok {
				var percent int
				_, _ = fmt.Sscanf(p, "%d", &percent)
				_ = bar.Set(percent)
			}
			if file, ok := s.Metadata["current_file"]; ok && file != "" {
				bar.Describe(file)
			}
		})
		if err != nil {
			return err
		}
		_ = bar.Finish()

		if status.Error != nil {
			return taskError("ingest failed", status.Error)
		}

		var result types.IngestResult
		if err := json.Unmarshal(status.Result, &result); err != nil {
			return fmt.Errorf("unexpected result payload: %w", err)
		}

		fmt.Printf("✓ Processed %d files, stored %d chunks in %.1fs\n",
			result.ProcessedFiles, result.StoredChunks, result.DurationSeconds)
		for _, skip := range result.Skipped {
			fmt.Printf("  skipped %s: %s\n", skip.Path, skip.Reason)
		}
		return nil
	},
}

// resolveDatabase maps a dataset name (or the sole dataset) to its database
func resolveDatabase(m *manifest.Manifest, dataset string) string {
	for _, ds := range m.Datasets {
		if dataset == "" || ds.Name == dataset {
			return ds.Database
		}
	}
	if dataset == "" && len(m.Databases) == 1 {
		return m.Databases[0].Name
	}
	return ""
}

var datasetsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Add a dataset to the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		database, _ := cmd.Flags().GetString("database")
		strategy, _ := cmd.Flags().GetString("strategy")

		m, err := loadProject()
		if err != nil {
			return err
		}

		name := args[0]
		for _, ds := range m.Datasets {
			if ds.Name == name {
				return &types.Failure{Code: types.CodeConfig, Message: "dataset already exists: " + name}
			}
		}
		if database == "" {
			database = resolveDatabase(m, "")
		}
		if strategy == "" && len(m.Strategies) > 0 {
			strategy = m.Strategies[0].Name
		}
		if source == "" {
			source = filepath.Join("data", name)
		}

		m.Datasets = append(m.Datasets, manifest.Dataset{
			Name:     name,
			Source:   source,
			Database: database,
			Strategy: strategy,
		})

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if err := m.Save(cwd); err != nil {
			return &types.Failure{Code: types.CodeConfig, Message: err.Error()}
		}
		if err := os.MkdirAll(filepath.Join(cwd, source), 0755); err != nil {
			return err
		}

		fmt.Printf("✓ Created dataset %s (source %s, database %s)\n", name, source, database)
		return nil
	},
}

var datasetsUploadCmd = &cobra.Command{
	Use:   "upload <dataset> <file>...",
	Short: "Copy files into a dataset's source directory",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadProject()
		if err != nil {
			return err
		}

		var target *manifest.Dataset
		for i := range m.Datasets {
			if m.Datasets[i].Name == args[0] {
				target = &m.Datasets[i]
				break
			}
		}
		if target == nil {
			return &types.Failure{Code: types.CodeConfig, Message: "unknown dataset: " + args[0]}
		}
		if err := os.MkdirAll(target.Source, 0755); err != nil {
			return err
		}

		for _, src := range args[1:] {
			if err := copyFile(src, filepath.Join(target.Source, filepath.Base(src))); err != nil {
				return fmt.Errorf("upload of %s failed: %w", src, err)
			}
			fmt.Printf("✓ Uploaded %s\n", filepath.Base(src))
		}
		fmt.Printf("Run: llamafarm datasets process %s\n", target.Name)
		return nil
	},
}

var datasetsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a dataset from the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadProject()
		if err != nil {
			return err
		}

		kept := m.Datasets[:0]
		found := false
		for _, ds := range m.Datasets {
			if ds.Name == args[0] {
				found = true
				continue
			}
			kept = append(kept, ds)
		}
		if !found {
			return &types.Failure{Code: types.CodeConfig, Message: "unknown dataset: " + args[0]}
		}
		m.Datasets = kept

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if err := m.Save(cwd); err != nil {
			return &types.Failure{Code: types.CodeConfig, Message: err.Error()}
		}

		// Source files and already-ingested chunks are left in place.
		fmt.Printf("✓ Deleted dataset %s\n", args[0])
		return nil
	},
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var datasetsCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a running ingest task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureServer(ctx); err != nil {
			return err
		}
		if err := apiClient().Revoke(ctx, args[0], true); err != nil {
			return err
		}
		fmt.Printf("✓ Task %s cancelled\n", args[0])
		return nil
	},
}

var datasetsStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show an ingest task's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureServer(ctx); err != nil {
			return err
		}
		status, err := apiClient().Task(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("task %s: %s\n", status.TaskID, status.State)
		if p, ok := status.Metadata["progress"]; ok {
			fmt.Printf("  progress: %s%%\n", p)
		}
		if status.Error != nil {
			fmt.Printf("  error: %s\n", status.Error.Message)
		}
		if len(status.Result) > 0 {
			fmt.Printf("  result: %s\n", humanize.Bytes(uint64(len(status.Result))))
		}
		return nil
	},
}

func init() {
	datasetsProcessCmd.Flags().String("source", "", "override the dataset's source path")
	datasetsProcessCmd.Flags().String("database", "", "target database")
	datasetsCreateCmd.Flags().String("source", "", "source directory (default data/<name>)")
	datasetsCreateCmd.Flags().String("database", "", "target database")
	datasetsCreateCmd.Flags().String("strategy", "", "processing strategy")

	datasetsCmd.AddCommand(datasetsCreateCmd)
	datasetsCmd.AddCommand(datasetsUploadCmd)
	datasetsCmd.AddCommand(datasetsListCmd)
	datasetsCmd.AddCommand(datasetsProcessCmd)
	datasetsCmd.AddCommand(datasetsDeleteCmd)
	datasetsCmd.AddCommand(datasetsCancelCmd)
	datasetsCmd.AddCommand(datasetsStatusCmd)
}
