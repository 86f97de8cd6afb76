// seed_caf carga en PostgreSQL los CAF descargados desde el sitio del SII.
//
// Uso: go run ./cmd/seed_caf [directorio]
// Por defecto usa SII_CAF_DIR. Todos los archivos válidos se guardan en una sola
// transacción; los inválidos se informan y se omiten.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/postgres"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/sii-dte-api/pkg/config"
	"github.com/jhoicas/sii-dte-api/pkg/logger"
	siipkg "github.com/jhoicas/sii-dte-api/pkg/sii"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, Service: "seed_caf"})

	dir := cfg.SII.CAFDir
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	ctx := context.Background()
	cafs, err := sii.NewCAFStore(dir, log.Component("caf")).LoadAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("leer CAF")
	}
	if len(cafs) == 0 {
		fmt.Fprintf(os.Stderr, "No hay CAF válidos en %s\n", dir)
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("schema")
	}

	err = postgres.NewTxRunner(pool).Run(ctx, func(ranges repository.FolioRangeRepository, docs repository.TaxDocumentRepository) error {
		for _, c := range cafs {
			r := c.Range
			if err := ranges.Upsert(ctx, r); err != nil {
				return fmt.Errorf("guardar CAF %s tipo %d %d-%d: %w", r.IssuerRUT, r.DocumentType, r.RangeStart, r.RangeEnd, err)
			}
			used, err := docs.AssignedFolios(ctx, r.IssuerRUT, r.DocumentType, r.RangeStart, r.RangeEnd)
			if err != nil {
				return err
			}
			rut, err := siipkg.FormatRUT(r.IssuerRUT)
			if err != nil {
				rut = r.IssuerRUT
			}
			fmt.Printf("%-12s %-40s %6d-%-6d usados %d/%d\n",
				rut, siipkg.DocTypeNames[int(r.DocumentType)],
				r.RangeStart, r.RangeEnd, len(used), r.Size())
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("carga de CAF")
	}
	fmt.Printf("Cargados %d CAF desde %s\n", len(cafs), dir)
}
