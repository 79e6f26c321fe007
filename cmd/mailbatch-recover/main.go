// Command mailbatch-recover resends the messages of a batch whose content is
// still in the content store, then waits for the outcome and prints the
// error report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sungwon/mailbatch/internal/bootstrap"
	"github.com/sungwon/mailbatch/internal/config"
	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/logger"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code.
func run() int {
	configDir := flag.String("config", "config", "directory holding config.yaml")
	batchID := flag.String("batch", "", "id of the batch to recover (required)")
	dryRun := flag.Bool("dry-run", false, "list pending messages without sending")
	wait := flag.Duration("wait", 10*time.Minute, "how long to wait for the resend to finish")
	flag.Parse()

	if *batchID == "" {
		fmt.Fprintln(os.Stderr, "usage: mailbatch-recover -batch <id> [-config dir] [-dry-run] [-wait 10m]")
		return 2
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	log := logger.New(cfg.Logging.Level).With().Str("batch_id", *batchID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.OpenLedgerBackend(ctx, cfg.Ledger, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to open ledger backend")
		return 1
	}
	defer backend.Close()

	ctrl, store, err := bootstrap.NewController(cfg, backend, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build pipeline")
		return 1
	}

	pending, err := store.Pending(ctx, *batchID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list pending messages")
		return 1
	}
	log.Info().Int("pending", len(pending)).Msg("pending messages found")
	if *dryRun || len(pending) == 0 {
		for _, id := range pending {
			fmt.Println(id)
		}
		return 0
	}

	ctrl.Start(ctx)
	defer ctrl.Stop(context.Background())

	res, err := ctrl.Resend(ctx, *batchID, pending, nil)
	if err != nil {
		log.Error().Err(err).Msg("resend failed")
		return 1
	}
	if err := res.WaitTillProcessed(*wait); err != nil {
		log.Error().Err(err).
			Int64("processed", res.ProcessedMailCount()).
			Int64("total", res.TotalMailCount()).
			Msg("resend did not finish")
	}

	report, err := ledger.SerializeErrors(res)
	if err != nil {
		log.Error().Err(err).Msg("failed to serialize errors")
		return 1
	}
	fmt.Println(string(report))

	failed := len(ledger.Collect(res.AllErrors()))
	log.Info().
		Int64("total", res.TotalMailCount()).
		Int("failed", failed).
		Msg("recovery finished")
	if failed > 0 {
		return 1
	}
	return 0
}
