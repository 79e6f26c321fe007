package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/joho/godotenv"

	"github.com/sungwon/mailbatch/internal/api"
	"github.com/sungwon/mailbatch/internal/auth"
	"github.com/sungwon/mailbatch/internal/bootstrap"
	"github.com/sungwon/mailbatch/internal/config"
	"github.com/sungwon/mailbatch/internal/logger"
	smtpserver "github.com/sungwon/mailbatch/internal/smtp"
	"github.com/sungwon/mailbatch/internal/tracing"
)

func main() {
	// Variables from .env feed the MAILBATCH_ overrides.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting mailbatch server")

	shutdownTracing := tracing.Setup(cfg.Tracing, log)

	ctx := context.Background()
	backend, err := bootstrap.OpenLedgerBackend(ctx, cfg.Ledger, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger backend")
	}
	defer backend.Close()

	ctrl, _, err := bootstrap.NewController(cfg, backend, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	ctrl.Start(ctx)

	keys := auth.NewKeyring(cfg.API.Keys)
	if keys == nil {
		log.Warn().Msg("no API keys configured, batch endpoints are unauthenticated")
	}
	registry := api.NewRegistry(0)

	router := api.NewRouter(api.Deps{
		Pipeline:    ctrl,
		Registry:    registry,
		Statuses:    backend.Query,
		Ready:       backend.Ready,
		Keys:        keys,
		DefaultFrom: cfg.Transport.DefaultFrom,
	}, log)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	var smtpSrv *gosmtp.Server
	if cfg.SMTP.Enabled {
		smtpBackend := smtpserver.NewBackend(ctrl, log, cfg.SMTP.MaxConnections,
			smtpserver.WithKeys(keys),
			smtpserver.WithRegistry(registry),
			smtpserver.WithAllowedSenderDomains(cfg.SMTP.AllowedSenderDomains...),
		)
		smtpSrv, err = smtpserver.NewServer(cfg.SMTP, smtpBackend)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure SMTP server")
		}
		ln, err := net.Listen("tcp", smtpSrv.Addr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", smtpSrv.Addr).Msg("failed to listen")
		}
		go func() {
			log.Info().Str("addr", smtpSrv.Addr).Msg("SMTP server listening")
			if err := smtpSrv.Serve(ln); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				log.Error().Err(err).Msg("SMTP server error")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	timeout := cfg.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop accepting batches first, then let the workers finish the items
	// they hold. Queued items stay pending in the content store.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if smtpSrv != nil {
		if err := smtpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("SMTP server shutdown error")
		}
	}
	ctrl.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown error")
	}

	log.Info().Msg("server stopped")
}
