package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llamafarm/llamafarm/pkg/api"
	"github.com/llamafarm/llamafarm/pkg/broker"
	"github.com/llamafarm/llamafarm/pkg/events"
	"github.com/llamafarm/llamafarm/pkg/metrics"
	"github.com/llamafarm/llamafarm/pkg/orchestrator"
	"github.com/llamafarm/llamafarm/pkg/resultstore"
	"github.com/llamafarm/llamafarm/pkg/types"
	"github.com/llamafarm/llamafarm/pkg/worker"
)

// serveCmd hosts the long-running service processes the orchestrator
// spawns. Users normally never invoke these directly.
var serveCmd = &cobra.Command{
	Use:    "serve",
	Short:  "Run a LlamaFarm service in the foreground",
	Hidden: true,
}

var serveAPICmd = &cobra.Command{
	Use:   "api",
	Short: "Run the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		project, _ := cmd.Flags().GetString("project")

		b, err := openBroker()
		if err != nil {
			return err
		}

		ev := events.NewBroker()
		ev.Start()
		defer ev.Stop()

		metrics.SetVersion(Version)
		collector := metrics.NewCollector(b, []string{"rag", "server"})
		collector.Start()
		defer collector.Stop()

		server := api.NewServer(api.Config{
			Port:       port,
			ProjectDir: project,
			VectorRoot: dataPath("vectors"),
			RuntimeURL: runtimeURL(),
			Version:    Version,
		}, b, orchestrator.NewDownloader(runtimeURL(), ev), ev)

		return server.Start(signalContext())
	},
}

var serveWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		project, _ := cmd.Flags().GetString("project")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		b, err := openBroker()
		if err != nil {
			return err
		}

		// Health and metrics listener so the orchestrator can probe us.
		metrics.SetVersion(Version)
		metrics.RegisterComponent("queues", types.HealthHealthy, 0, "")
		mux := http.NewServeMux()
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
		}()

		w := worker.New(worker.Config{
			ProjectDir:  project,
			VectorRoot:  dataPath("vectors"),
			RuntimeURL:  runtimeURL(),
			Concurrency: concurrency,
		}, b)

		ctx := signalContext()
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{serveAPICmd, serveWorkerCmd} {
		cmd.Flags().Int("port", 0, "listen port")
		cmd.Flags().String("project", ".", "project directory")
	}
	serveWorkerCmd.Flags().Int("concurrency", 2, "task-executing goroutines")
	serveCmd.AddCommand(serveAPICmd)
	serveCmd.AddCommand(serveWorkerCmd)
}

func openBroker() (*broker.Broker, error) {
	store, err := resultstore.New(dataPath("results"))
	if err != nil {
		return nil, err
	}
	return broker.New(dataPath("queue"), store, nil)
}

func runtimeURL() string {
	return envOr("LLAMAFARM_RUNTIME_URL", defaultRuntime)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}
