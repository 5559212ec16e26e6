package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/llamafarm/llamafarm/pkg/types"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage runtime models",
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download [model]",
	Short: "Download a model through the runtime",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model := ""
		if len(args) == 1 {
			model = args[0]
		}
		if model == "" {
			m, err := loadProject()
			if err != nil {
				return err
			}
			dm, err := m.DefaultModel()
			if err != nil {
				return err
			}
			model = dm.ModelID
		}

		ctx := cmd.Context()
		if err := ensureServer(ctx); err != nil {
			return err
		}

		fmt.Printf("Downloading %s\n", model)

		var bar *progressbar.ProgressBar
		err := apiClient().Download(ctx, model, func(ev types.DownloadEvent) {
			switch ev.Type {
			case types.DownloadStart:
				bar = progressbar.DefaultBytes(ev.Total, ev.Desc)
			case types.DownloadProgress:
				if bar != nil {
					_ = bar.Set64(ev.N)
				}
			case types.DownloadEnd:
				if bar != nil {
					_ = bar.Finish()
					bar = nil
				}
			case types.DownloadDone:
				fmt.Printf("✓ Saved to %s\n", ev.LocalDir)
			}
		})
		if err != nil {
			if strings.Contains(err.Error(), "server unreachable") {
				return err
			}
			return taskError("download failed for "+model, &types.Failure{Message: err.Error()})
		}
		return nil
	},
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's configured models",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadProject()
		if err != nil {
			return err
		}
		if len(m.Models) == 0 {
			fmt.Println("No models configured.")
			return nil
		}
		for _, model := range m.Models {
			marker := " "
			if model.Default {
				marker = "*"
			}
			fmt.Printf("%s %-12s %s", marker, model.Name, model.ModelID)
			if model.Quantization != "" {
				fmt.Printf(" (%s, ~%s)", model.Quantization, humanize.Bytes(modelSizeHint(model.Quantization)))
			}
			fmt.Println()
		}
		return nil
	},
}

// modelSizeHint gives a rough artifact size per quantization level
func modelSizeHint(quantization string) uint64 {
	switch quantization {
	case "q4":
		return 2 << 30
	case "q8":
		return 4 << 30
	default:
		return 6 << 30
	}
}

func init() {
	modelsCmd.AddCommand(modelsDownloadCmd)
	modelsCmd.AddCommand(modelsListCmd)
}
