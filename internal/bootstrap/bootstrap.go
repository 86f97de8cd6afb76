// Package bootstrap arma las dependencias compartidas por los binarios (api, poller):
// almacenamiento según APP_STORAGE y gateway SII según SII_ENV.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/memory"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/postgres"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/sii-dte-api/pkg/config"
)

// Storage repositorios elegidos por configuración.
type Storage struct {
	Documents repository.TaxDocumentRepository
	Ranges    repository.FolioRangeRepository
	Pool      *pgxpool.Pool // nil con APP_STORAGE=memory
}

// Close libera el pool si existe.
func (s *Storage) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStorage abre PostgreSQL (aplicando el schema) o repositorios en memoria.
func OpenStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Storage, error) {
	if cfg.App.Storage == "memory" {
		log.Warn().Msg("almacenamiento en memoria: los documentos se pierden al reiniciar")
		return &Storage{
			Documents: memory.NewTaxDocumentRepository(),
			Ranges:    memory.NewFolioRangeRepository(),
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Storage{
		Documents: postgres.NewTaxDocumentRepository(pool),
		Ranges:    postgres.NewFolioRangeRepository(pool),
		Pool:      pool,
	}, nil
}

// Gateway conexión al SII y, si hay certificado, el firmante de los envíos.
type Gateway struct {
	Authority ports.TaxAuthorityGateway
	Signer    ports.Signer // nil sin certificado
}

// NewGateway devuelve el simulador en dev y el cliente SOAP/HTTP del SII en cert y prod.
// Los CAF se leen siempre desde SII_CAF_DIR salvo en dev, donde se generan.
func NewGateway(cfg *config.Config, log zerolog.Logger) (*Gateway, error) {
	if cfg.SII.Environment == config.SIIEnvDev {
		log.Info().Msg("SII en modo dev: simulador local, sin red")
		return &Gateway{Authority: sii.NewDevGateway(sii.DevGatewayConfig{}, log)}, nil
	}

	var xmlSigner *sii.XMLSigner
	if cfg.SII.CertPath != "" {
		cert, err := sii.LoadCertificate(cfg.SII.CertPath, cfg.SII.CertKeyPath, cfg.SII.CertPassword)
		if err != nil {
			return nil, fmt.Errorf("certificado SII: %w", err)
		}
		if xmlSigner, err = sii.NewXMLSigner(cert); err != nil {
			return nil, fmt.Errorf("firmante SII: %w", err)
		}
	} else {
		log.Warn().Str("env", cfg.SII.Environment).Msg("SII_CERT_PATH vacío: no se podrá obtener token ni firmar")
	}

	client := sii.NewClient(sii.ClientConfig{
		BaseURL:          sii.BaseURL(cfg.SII.Environment),
		SenderRUT:        cfg.SII.SenderRUT,
		Timeout:          cfg.SII.Timeout,
		TokenTTL:         cfg.SII.TokenTTL,
		BreakerThreshold: cfg.SII.BreakerThreshold,
		BreakerCooldown:  cfg.SII.BreakerCooldown,
		MaxConcurrent:    cfg.SII.MaxConcurrent,
	}, seedSigner(xmlSigner), sii.NewCAFStore(cfg.SII.CAFDir, log), log)

	gw := &Gateway{Authority: client}
	if xmlSigner != nil {
		gw.Signer = xmlSigner
	}
	return gw, nil
}

// seedSigner evita pasar un *XMLSigner nil dentro de la interfaz.
func seedSigner(s *sii.XMLSigner) sii.SeedSigner {
	if s == nil {
		return nil
	}
	return s
}
