package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/quorum/internal/pipeline"
	"github.com/ppiankov/quorum/internal/server"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve exposes the consensus pipeline over HTTP:
- POST /api/query       run a question through the pipeline
- GET  /api/health      probe every configured model endpoint
- GET  /api/statistics  pipeline and cache counters
- DELETE /api/cache     clear the result cache
- GET  /metrics         Prometheus metrics

Example:
  quorum serve
  quorum serve --addr :9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	return server.Run(cfg, p)
}
