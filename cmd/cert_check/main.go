// cert_check diagnostica el certificado digital configurado para el SII: lectura del
// archivo, contraseña, vigencia y que la llave sirva para firmar la semilla del token.
//
// Uso: go run ./cmd/cert_check
// Lee SII_CERT_PATH, SII_CERT_KEY_PATH y SII_CERT_PASSWORD desde el entorno o .env.
package main

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/sii-dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/sii-dte-api/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("🔍 DIAGNÓSTICO DE CERTIFICADO SII")
	fmt.Println("---------------------------------")
	if cfg.SII.CertPath == "" {
		fmt.Println("❌ SII_CERT_PATH está vacío.")
		os.Exit(1)
	}
	fmt.Printf("📂 Leyendo: %s\n", cfg.SII.CertPath)

	cert, err := sii.LoadCertificate(cfg.SII.CertPath, cfg.SII.CertKeyPath, cfg.SII.CertPassword)
	if err != nil {
		fmt.Println("\n❌ ERROR DE ARCHIVO, CONTRASEÑA O FORMATO:")
		fmt.Printf("   Detalle técnico: %v\n", err)
		os.Exit(1)
	}
	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			fmt.Printf("\n❌ Certificado ilegible: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("✅ Titular: %s\n", leaf.Subject.CommonName)
	fmt.Printf("   Emisor:  %s\n", leaf.Issuer.CommonName)
	fmt.Printf("   Vigente: %s → %s\n", leaf.NotBefore.Format(time.DateOnly), leaf.NotAfter.Format(time.DateOnly))

	now := time.Now()
	switch {
	case now.Before(leaf.NotBefore):
		fmt.Println("\n❌ El certificado aún no está vigente.")
		os.Exit(1)
	case now.After(leaf.NotAfter):
		fmt.Println("\n❌ El certificado está vencido: el SII rechazará la firma.")
		os.Exit(1)
	case leaf.NotAfter.Sub(now) < 30*24*time.Hour:
		fmt.Printf("\n⚠️  Vence en %d días.\n", int(leaf.NotAfter.Sub(now).Hours()/24))
	}

	signer, err := sii.NewXMLSigner(cert)
	if err != nil {
		fmt.Printf("\n❌ %v\n", err)
		os.Exit(1)
	}
	if _, err := signer.SignSeed("000000000001"); err != nil {
		fmt.Printf("\n❌ No se pudo firmar una semilla de prueba: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✨ ¡ÉXITO! El certificado sirve para pedir token y firmar DTE.")
	if cfg.SII.SenderRUT == "" {
		fmt.Println("   Recuerde definir SII_SENDER_RUT con el RUT del titular.")
	}
}
