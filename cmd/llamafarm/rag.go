package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llamafarm/llamafarm/pkg/types"
)

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "Query and inspect the project's databases",
}

var ragQueryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a retrieval query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		topK, _ := cmd.Flags().GetInt("top-k")

		if database == "" {
			m, err := loadProject()
			if err != nil {
				return err
			}
			database = resolveDatabase(m, "")
		}
		if database == "" {
			return &types.Failure{Code: types.CodeConfig, Message: "no database resolved: pass --database"}
		}

		ctx := cmd.Context()
		if err := ensureServer(ctx); err != nil {
			return err
		}

		status, err := apiClient().Query(ctx, database, args[0], topK)
		if err != nil {
			return err
		}
		if status.Error != nil {
			return taskError("query failed", status.Error)
		}

		var result struct {
			Hits []types.QueryHit `json:"hits"`
		}
		if err := json.Unmarshal(status.Result, &result); err != nil {
			return fmt.Errorf("unexpected result payload: %w", err)
		}
		if len(result.Hits) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for i, hit := range result.Hits {
			fmt.Printf("%s %s (score %.3f)\n",
				color.CyanString("%d.", i+1), hit.SourcePath, hit.Score)
			fmt.Printf("   %s\n", snippet(hit.Text, 200))
		}
		return nil
	},
}

// snippet truncates text to one display line
func snippet(text string, max int) string {
	out := make([]rune, 0, max)
	for _, r := range text {
		if r == '\n' {
			r = ' '
		}
		out = append(out, r)
		if len(out) >= max {
			return string(out) + "…"
		}
	}
	return string(out)
}

var ragStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show chunk and document counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		if database == "" {
			m, err := loadProject()
			if err != nil {
				return err
			}
			database = resolveDatabase(m, "")
		}

		ctx := cmd.Context()
		if err := ensureServer(ctx); err != nil {
			return err
		}

		status, err := apiClient().Stats(ctx, database)
		if err != nil {
			return err
		}
		if status.Error != nil {
			return taskError("stats failed", status.Error)
		}

		var stats struct {
			Chunks    int `json:"chunks"`
			Documents int `json:"documents"`
			Dimension int `json:"dimension"`
		}
		if err := json.Unmarshal(status.Result, &stats); err != nil {
			return fmt.Errorf("unexpected result payload: %w", err)
		}
		fmt.Printf("database:  %s\n", database)
		fmt.Printf("documents: %d\n", stats.Documents)
		fmt.Printf("chunks:    %d\n", stats.Chunks)
		fmt.Printf("dimension: %d\n", stats.Dimension)
		return nil
	},
}

var ragHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show aggregated platform health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureServer(ctx); err != nil {
			return err
		}

		report, err := apiClient().Health(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", healthGlyph(report.Status), report.Status)
		for name, component := range report.Components {
			fmt.Printf("  %s %-14s %4dms", healthGlyph(component.Status), name, component.LatencyMs)
			if component.Message != "" {
				fmt.Printf("  %s", component.Message)
			}
			fmt.Println()
		}
		return nil
	},
}

func healthGlyph(s types.HealthState) string {
	switch s {
	case types.HealthHealthy:
		return color.GreenString("●")
	case types.HealthDegraded:
		return color.YellowString("●")
	default:
		return color.RedString("●")
	}
}

func init() {
	ragQueryCmd.Flags().String("database", "", "database to query")
	ragQueryCmd.Flags().Int("top-k", 0, "number of results (default from manifest)")
	ragStatsCmd.Flags().String("database", "", "database to inspect")

	ragCmd.AddCommand(ragQueryCmd)
	ragCmd.AddCommand(ragStatsCmd)
	ragCmd.AddCommand(ragHealthCmd)
}
