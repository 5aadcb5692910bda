package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/provider-verify/internal/monitoring"
	"github.com/sells-group/provider-verify/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve", envOptions{sources: true})
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(env.Store, env.Querier.Breakers())
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := server.New(server.Deps{
			Store:    env.Store,
			Review:   env.Review,
			Pipeline: env.Pipeline,
			Matcher:  env.Matcher,
			Breakers: env.Querier.Breakers(),
		}, server.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
		return srv.ListenAndServe(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
