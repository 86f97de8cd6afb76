// poller consulta periódicamente al SII el estado de los DTE en SUBMITTED.
//
// Uso: go run ./cmd/poller
// Cadencia y tamaño de tanda: POLL_INTERVAL_SECONDS, POLL_BATCH_SIZE, POLL_CONCURRENCY.
// Con APP_STORAGE=memory no tiene sentido: no comparte documentos con la API.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jhoicas/sii-dte-api/internal/application/dte"
	"github.com/jhoicas/sii-dte-api/internal/bootstrap"
	"github.com/jhoicas/sii-dte-api/pkg/config"
	"github.com/jhoicas/sii-dte-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, Service: "poller"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStorage(ctx, cfg, log.Component("storage"))
	if err != nil {
		log.Fatal().Err(err).Msg("almacenamiento")
	}
	defer store.Close()

	gw, err := bootstrap.NewGateway(cfg, log.Component("sii"))
	if err != nil {
		log.Fatal().Err(err).Msg("gateway SII")
	}
	tracker := dte.NewStateTracker(store.Documents, gw.Authority, cfg.Poller.Concurrency, log.Component("tracker"))

	log.Info().Dur("interval", cfg.Poller.Interval).Int("batch", cfg.Poller.BatchSize).Msg("poller iniciado")
	ticker := time.NewTicker(cfg.Poller.Interval)
	defer ticker.Stop()
	for {
		runOnce(ctx, tracker, cfg.Poller.BatchSize, cfg.Poller.Interval, log)
		select {
		case <-ctx.Done():
			log.Info().Msg("poller detenido")
			return
		case <-ticker.C:
		}
	}
}

// runOnce una pasada acotada al intervalo: una tanda lenta no se acumula con la siguiente.
func runOnce(ctx context.Context, tracker *dte.StateTracker, batch int, interval time.Duration, log *logger.Logger) {
	passCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	start := time.Now()
	res, err := tracker.PollPending(passCtx, batch)
	if err != nil && res == nil {
		log.Error().Err(err).Msg("pasada de consulta fallida")
		return
	}
	ev := log.Info()
	if err != nil || res.Failed > 0 {
		ev = log.Warn().AnErr("ctx", err)
	}
	ev.Int("checked", res.Checked).
		Int("accepted", res.Accepted).
		Int("rejected", res.Rejected).
		Int("pending", res.Pending).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("pasada de consulta")
}
