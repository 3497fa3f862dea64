package cli

import (
	"fmt"

	"applyforge/internal/config"
	"applyforge/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for resume analysis and cover letter generation",
	Long: `Start an HTTP server exposing the application pipeline as a REST API.

Endpoints:
- POST /api/v1/analyze: Run the full pipeline for a resume and job description
- POST /api/v1/cover-letter: Generate a cover letter, optionally merging a previous result
- POST /api/v1/extract: Extract normalized text from a PDF document
- GET /health: Health check endpoint
- GET /api/v1/stats: Server statistics and rate limiting info

TLS is controlled through --tls-mode (disabled, server, mutual) together with
--cert-file/--key-file, plus --ca-file for verifying client certificates in
mutual mode.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("port", "p", "", "Port to listen on (default from config)")
	serveCmd.Flags().String("host", "", "Host to bind to (default from config)")
	serveCmd.Flags().String("tls-mode", "", "TLS mode: disabled, server, mutual (overrides config)")
	serveCmd.Flags().String("cert-file", "", "Server certificate file (PEM, overrides config)")
	serveCmd.Flags().String("key-file", "", "Server private key file (PEM, overrides config)")
	serveCmd.Flags().String("ca-file", "", "CA certificate file for client cert verification (PEM, overrides config)")

	bindFlag := func(key, flagName string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(flagName)); err != nil {
			panic(err)
		}
	}

	bindFlag("server.port", "port")
	bindFlag("server.host", "host")
	bindFlag("server.tls.mode", "tls-mode")
	bindFlag("server.tls.certfile", "cert-file")
	bindFlag("server.tls.keyfile", "key-file")
	bindFlag("server.tls.cafile", "ca-file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := configFromContext(cmd.Context())
	logger := loggerFromContext(cmd.Context())

	// Flags may have overridden the TLS block after LoadConfig validated it,
	// so validate again with the overrides applied.
	tlsCheck := &config.Config{Server: cfg.Server}
	if err := tlsCheck.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}

	srv := server.NewServer(cfg, Version, logger)
	return srv.Start(cmd.Context())
}
