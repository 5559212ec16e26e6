package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llamafarm/llamafarm/pkg/orchestrator"
	"github.com/llamafarm/llamafarm/pkg/types"
)

const (
	serverPort  = 8000
	workerPort  = 8001
	runtimePort = 11540
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the LlamaFarm services",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := loadProject()
		if err != nil {
			return err
		}
		return startServices(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [service]",
	Short: "Stop the LlamaFarm services, or just one of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := newOrchestrator()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			id, err := serviceID(args[0])
			if err != nil {
				return err
			}
			if err := orch.Stop(id); err != nil {
				return err
			}
			fmt.Printf("✓ %s stopped\n", id)
			return nil
		}

		if err := orch.StopAll(); err != nil {
			return err
		}
		fmt.Println("✓ Services stopped")
		return nil
	},
}

// serviceID resolves a user-facing service name
func serviceID(name string) (types.ServiceID, error) {
	switch name {
	case "server", "api":
		return types.ServiceAPI, nil
	case "worker":
		return types.ServiceWorker, nil
	case "runtime":
		return types.ServiceRuntime, nil
	}
	return "", &types.Failure{
		Code:    types.CodeConfig,
		Message: "unknown service: " + name + " (expected server, worker, or runtime)",
	}
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Inspect the managed services",
}

var servicesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		orch, err := newOrchestrator()
		if err != nil {
			return err
		}
		list := orch.List()

		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(list)
		}

		if len(list) == 0 {
			fmt.Println("No services are tracked. Run: llamafarm start")
			return nil
		}
		for _, desc := range list {
			fmt.Printf("%s %-8s %-9s", statusGlyph(desc.State), desc.ServiceID, desc.State)
			if desc.PID > 0 {
				fmt.Printf("  pid %d", desc.PID)
			}
			if desc.Port > 0 {
				fmt.Printf("  port %d", desc.Port)
			}
			if up := desc.Uptime(); up > 0 {
				fmt.Printf("  up %s", up.Round(time.Second))
			}
			if desc.Degraded {
				fmt.Printf("  %s", color.YellowString("(degraded)"))
			}
			fmt.Println()
		}
		return nil
	},
}

func statusGlyph(state types.ServiceState) string {
	switch state {
	case types.ServiceStateRunning:
		return color.GreenString("●")
	case types.ServiceStateStarting, types.ServiceStateStopping:
		return color.YellowString("●")
	case types.ServiceStateFailed:
		return color.RedString("●")
	default:
		return color.New(color.Faint).Sprint("○")
	}
}

func init() {
	servicesStatusCmd.Flags().Bool("json", false, "machine-readable output")
	servicesCmd.AddCommand(servicesStatusCmd)
}

func newOrchestrator() (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Config{
		StateDir: stateDir(),
		Mode:     orchestrationMode(),
	}, nil)
}

// startServices brings up runtime, server, and worker, waiting on each
// health endpoint. Already-running services are left untouched.
func startServices(ctx context.Context) error {
	orch, err := newOrchestrator()
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return err
	}
	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}

	timeout := time.Duration(flagStartTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	specs := []orchestrator.Spec{
		{
			ServiceID:  types.ServiceRuntime,
			Command:    runtimeCommand(),
			Image:      os.Getenv("LLAMAFARM_RUNTIME_IMAGE"),
			Port:       runtimePort,
			HealthPath: "/v1/health",
		},
		{
			ServiceID: types.ServiceWorker,
			Command: []string{self, "serve", "worker",
				"--project", projectDir,
				"--port", fmt.Sprintf("%d", workerPort)},
			Port:       workerPort,
			HealthPath: "/health",
		},
		{
			ServiceID: types.ServiceAPI,
			Command: []string{self, "serve", "api",
				"--project", projectDir,
				"--port", fmt.Sprintf("%d", serverPort)},
			Port:       serverPort,
			HealthPath: "/v1/health",
		},
	}

	for _, spec := range specs {
		fmt.Printf("Starting %s...\n", spec.ServiceID)
		if err := orch.Start(ctx, spec); err != nil {
			printFailure(err)
			return err
		}
		fmt.Printf("✓ %s running\n", spec.ServiceID)
	}

	fmt.Println()
	fmt.Printf("LlamaFarm is up: %s\n", flagServerURL)
	return nil
}

// runtimeCommand resolves the Universal Runtime binary; overridable for
// alternative runtime builds.
func runtimeCommand() []string {
	if cmd := os.Getenv("LLAMAFARM_RUNTIME_CMD"); cmd != "" {
		return []string{cmd, "--port", fmt.Sprintf("%d", runtimePort)}
	}
	return []string{"lf-runtime", "--port", fmt.Sprintf("%d", runtimePort)}
}

// printFailure renders recovery commands when the error carries them
func printFailure(err error) {
	var failure *types.Failure
	if !errors.As(err, &failure) || len(failure.Recovery) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "\nTry:")
	for _, cmd := range failure.Recovery {
		fmt.Fprintf(os.Stderr, "  %s\n", cmd)
	}
}

// ensureServer checks the API server and auto-starts the stack when
// allowed. Returns a transport failure when the server stays down.
func ensureServer(ctx context.Context) error {
	c := apiClient()
	if c.Reachable(ctx) {
		return nil
	}
	if !flagAutoStart {
		return &types.Failure{
			Code:     types.CodeTransport,
			Message:  "server unreachable: " + flagServerURL,
			Recovery: []string{"llamafarm start"},
		}
	}

	fmt.Fprintln(os.Stderr, "Server is down, starting services...")
	if err := startServices(ctx); err != nil {
		return err
	}
	if !c.Reachable(ctx) {
		return &types.Failure{Code: types.CodeTransport, Message: "server unreachable after start"}
	}
	return nil
}

func dataPath(parts ...string) string {
	return filepath.Join(append([]string{stateDir()}, parts...)...)
}
