package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/akashicode/docuquery/internal/answer"
	"github.com/akashicode/docuquery/internal/config"
	"github.com/akashicode/docuquery/internal/display"
	"github.com/akashicode/docuquery/internal/llm"
	"github.com/akashicode/docuquery/internal/reader"
	"github.com/akashicode/docuquery/internal/server"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort  int
	serveQuiet bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docuquery HTTP server",
	Long: `Starts the HTTP server on port 8000 (or $PORT).

Exposes:
  POST /api/chat                      - answer {documentText, question}
  POST /api/sessions                  - create a session
  POST /api/sessions/{id}/document    - upload a PDF (multipart field "file")
  POST /api/sessions/{id}/questions   - ask {question}
  POST /api/sessions/{id}/reset       - discard document and conversation
  POST /mcp                           - Model Context Protocol JSON-RPC
  GET  /health                        - health check

The completion API key is read from llm.api_key, then API_KEY, then
VITE_API_KEY. Without one the server still starts but /api/chat answers
with a configuration error.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 8000)")
	serveCmd.Flags().BoolVar(&serveQuiet, "quiet", false, "Disable the banner and colored access log")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	// Use PORT env variable if set (container environments)
	if envPort := os.Getenv("PORT"); envPort != "" {
		p, err := strconv.Atoi(envPort)
		if err != nil {
			return &config.ConfigurationError{Key: "PORT", Err: err}
		}
		cfg.Server.Port = p
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if err := cfg.Server.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var completer answer.Completer
	c, err := llm.NewCompleter(ctx, &cfg.LLM)
	switch {
	case errors.Is(err, config.ErrMissingAPIKey):
		log.Error().Err(err).Msg("no API key configured; /api/chat will refuse requests")
	case err != nil:
		return fmt.Errorf("create %s client: %w", cfg.LLM.Provider, err)
	default:
		completer = c
	}

	srv, err := server.New(server.Config{
		Server:    cfg.Server,
		LLM:       cfg.LLM,
		Completer: completer,
		Extractor: reader.NewExtractor(reader.PDFOpener),
		Logger:    log,
		AccessLog: !serveQuiet,
	})
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	if !serveQuiet {
		display.PrintBanner(display.ServerInfo{
			Version:        version,
			Provider:       cfg.LLM.Provider,
			Model:          cfg.LLM.ModelOrDefault(),
			BaseURL:        cfg.LLM.BaseURL,
			KeyPresent:     completer != nil,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			MaxSessions:    cfg.Server.MaxSessions,
			ChatRateLimit:  cfg.Server.ChatRateLimit,
			Port:           cfg.Server.Port,
		})
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
