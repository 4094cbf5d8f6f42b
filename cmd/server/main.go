package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gridlock/server/internal/app"
	"gridlock/server/internal/observability"
	"gridlock/server/logging"
)

type rootOptions struct {
	ConfigPath string
	LogJSON    string
	Verbose    bool
	Pprof      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "gridlockd",
		Short: "Authoritative shard server for the gridlock protocol",
		Long: `gridlockd runs one authoritative world shard. Clients connect over
websocket or QUIC, stream inputs, and receive per-tick replication
updates with periodic keyframes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogJSON, "log-json", "", "append structured log events to this file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log debug events")
	cmd.PersistentFlags().BoolVar(&opts.Pprof, "pprof", false, "expose runtime profiles under /debug/pprof")

	return cmd
}

func runServer(ctx context.Context, opts *rootOptions) error {
	logCfg := logging.DefaultConfig()
	if opts.LogJSON != "" {
		logCfg.EnabledSinks = append(logCfg.EnabledSinks, logging.SinkJSON)
		logCfg.JSON.FilePath = opts.LogJSON
	}
	if opts.Verbose {
		logCfg.MinimumSeverity = logging.SeverityDebug
	}

	return app.Run(ctx, app.Config{
		ConfigPath:    opts.ConfigPath,
		Logging:       logCfg,
		Observability: observability.Config{EnablePprof: opts.Pprof},
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
