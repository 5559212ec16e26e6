package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llamafarm/llamafarm/pkg/client"
	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes: 0 success, 1 user error (bad flags, missing config),
// 2 service error (dependency unreachable), 3 task failure.
const (
	exitOK      = 0
	exitUser    = 1
	exitService = 2
	exitTask    = 3
)

var (
	flagServerURL    string
	flagAutoStart    bool
	flagCwd          string
	flagDebug        bool
	flagStartTimeout int
)

const (
	defaultServerURL = "http://127.0.0.1:8000"
	defaultRuntime   = "http://127.0.0.1:11540"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the CLI's exit code contract: config and
// usage problems are user errors, unreachable dependencies are service
// errors, and everything a task reported is a task failure.
func exitCode(err error) int {
	var failure *types.Failure
	if errors.As(err, &failure) {
		switch failure.Code {
		case types.CodeConfig:
			return exitUser
		case types.CodeTransport, types.CodeDependency:
			return exitService
		}
		return exitTask
	}
	if strings.Contains(err.Error(), "server unreachable") {
		return exitService
	}
	return exitUser
}

// taskError turns a failed task payload into the CLI error, keeping
// the payload's failure code so the exit code classifies correctly
func taskError(action string, f *types.Failure) error {
	code := f.Code
	if code == "" {
		code = types.CodeHandler
	}
	return &types.Failure{
		Code:     code,
		Message:  fmt.Sprintf("%s: %s", action, f.Message),
		Recovery: f.Recovery,
	}
}

var rootCmd = &cobra.Command{
	Use:   "llamafarm",
	Short: "LlamaFarm - local-first RAG platform",
	Long: `LlamaFarm runs retrieval-augmented generation entirely on your
machine: a project manifest defines databases, processing strategies and
models; the CLI starts the services, ingests your documents, and answers
queries against them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := log.InfoLevel
		if flagDebug {
			level = log.DebugLevel
		}
		log.Init(log.Config{Level: level, Output: os.Stderr})

		if flagCwd != "" {
			if err := os.Chdir(flagCwd); err != nil {
				fmt.Fprintf(os.Stderr, "Error: cannot change directory: %v\n", err)
				os.Exit(exitUser)
			}
		}
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"LlamaFarm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServerURL, "server-url", envOr("LLAMAFARM_SERVER_URL", defaultServerURL), "API server URL")
	pf.BoolVar(&flagAutoStart, "auto-start", true, "start services automatically when the server is down")
	pf.StringVar(&flagCwd, "cwd", "", "run as if started in this directory")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	pf.IntVar(&flagStartTimeout, "start-timeout", 60, "seconds to wait for services to come up")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(ragCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(serveCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// sessionID identifies this CLI session in dispatch metadata
func sessionID() string {
	return os.Getenv("LLAMAFARM_SESSION_ID")
}

// orchestrationMode reads the LLAMAFARM_MODE override (native/container)
func orchestrationMode() types.OrchestrationMode {
	switch os.Getenv("LLAMAFARM_MODE") {
	case "container":
		return types.ModeContainer
	case "native":
		return types.ModeNative
	}
	return types.ModeAuto
}

// apiClient builds the client for the configured server URL
func apiClient() *client.Client {
	return client.New(flagServerURL).WithSession(sessionID())
}
