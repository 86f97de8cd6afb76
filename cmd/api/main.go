package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/sii-dte-api/internal/application/dte"
	"github.com/jhoicas/sii-dte-api/internal/application/folio"
	apptax "github.com/jhoicas/sii-dte-api/internal/application/tax"
	"github.com/jhoicas/sii-dte-api/internal/bootstrap"
	domaintax "github.com/jhoicas/sii-dte-api/internal/domain/tax"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/cache"
	infrapdf "github.com/jhoicas/sii-dte-api/internal/infrastructure/pdf"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/sii"
	httpRouter "github.com/jhoicas/sii-dte-api/internal/interfaces/http"
	"github.com/jhoicas/sii-dte-api/pkg/config"
	"github.com/jhoicas/sii-dte-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: "api",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("sii_env", cfg.SII.Environment).
		Str("storage", cfg.App.Storage).
		Msg("iniciando aplicación")

	ctx := context.Background()
	store, err := bootstrap.OpenStorage(ctx, cfg, log.Component("storage"))
	if err != nil {
		log.Fatal().Err(err).Msg("almacenamiento")
	}
	defer store.Close()

	gw, err := bootstrap.NewGateway(cfg, log.Component("sii"))
	if err != nil {
		log.Fatal().Err(err).Msg("gateway SII")
	}

	// Folios: CAF del SII (o del simulador) con cache y persistencia
	folioAuthority := folio.NewAuthority(
		gw.Authority, store.Ranges, store.Documents, cache.NewCAFCache(),
		folio.Config{CacheTTL: cfg.SII.CAFCacheTTL, LowStockThreshold: cfg.SII.LowFolioThreshold, FetchTimeout: cfg.SII.Timeout},
		log.Component("folio"),
	)

	// DTE: emisión → EnvioDTE XML → firma → upload → TrackID → consulta de estado
	xmlBuilder := sii.NewXMLBuilder(sii.BuilderConfig{
		SenderRUT:        cfg.SII.SenderRUT,
		ResolutionNumber: cfg.SII.ResolutionNumber,
		ResolutionDate:   cfg.SII.ResolutionDate,
	})
	issueUC := dte.NewIssueDocumentUseCase(store.Documents, folioAuthority, cfg.Tax.IVARate, log.Component("issue"))
	pipeline := dte.NewSubmissionPipeline(
		store.Documents, folioAuthority, xmlBuilder, gw.Signer, gw.Authority, log.Component("submission"),
	)
	tracker := dte.NewStateTracker(store.Documents, gw.Authority, cfg.Poller.Concurrency, log.Component("tracker"))
	pdfUC := dte.NewPDFUseCase(store.Documents, folioAuthority, xmlBuilder, infrapdf.NewMarotoPDFGenerator())

	engine := domaintax.NewEngine(domaintax.Rates{
		FirstCategoryRate:  cfg.Tax.FirstCategoryRate,
		TrainingCreditRate: cfg.Tax.TrainingCreditRate,
		TrainingCreditCap:  cfg.Tax.TrainingCreditCap,
	})
	declarationUC := apptax.NewDeclarationUseCase(engine, store.Documents, cfg.Tax.DefaultPPMRate, log.Component("tax"))

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.SII.Timeout + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "SII DTE API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "sii_env": cfg.SII.Environment})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		IssueUC:        issueUC,
		Pipeline:       pipeline,
		Tracker:        tracker,
		PDFUC:          pdfUC,
		FolioAuthority: folioAuthority,
		DeclarationUC:  declarationUC,
		PollBatchSize:  cfg.Poller.BatchSize,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
