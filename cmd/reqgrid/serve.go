package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/reqgrid/reqgrid/internal/app"
	"github.com/reqgrid/reqgrid/internal/config"
)

var (
	httpAddr    string
	grpcAddr    string
	enableGRPC  bool
	watchSource bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the request grid API",
	Long: `Load the configured source and serve the HTTP API until SIGINT or SIGTERM.

Examples:
  reqgrid serve --source /var/log/nginx/access.log
  reqgrid serve --source-type sqlite --source requests.db --http-addr :9000
  reqgrid serve --config /etc/reqgrid/reqgrid.yaml --grpc`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	serveCmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address")
	serveCmd.Flags().BoolVar(&enableGRPC, "grpc", false, "Serve the gRPC health service")
	serveCmd.Flags().BoolVar(&watchSource, "watch", true, "Reload a file source when it changes")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(func(cfg *config.Config) {
		if httpAddr != "" {
			cfg.HTTP.Addr = httpAddr
		}
		if grpcAddr != "" {
			cfg.GRPC.Addr = grpcAddr
		}
		if enableGRPC {
			cfg.GRPC.Enabled = true
		}
		if cmd.Flags().Changed("watch") {
			cfg.Source.Watch = watchSource
		}
	})
	if err != nil {
		return err
	}
	printBanner(cfg)

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
