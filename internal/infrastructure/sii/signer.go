package sii

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/sii-dte-api/internal/application/ports"
)

// XMLDSig con RSA-SHA1, el único algoritmo que acepta el SII.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

var _ ports.Signer = (*XMLSigner)(nil)

// XMLSigner firma EnvioDTE (cada Documento y luego el SetDTE) y la semilla del token.
type XMLSigner struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

// LoadCertificate carga certificado y llave desde .p12/.pfx o desde PEM.
// Con keyPath vacío, un PEM puede traer certificado y llave en el mismo archivo.
func LoadCertificate(certPath, keyPath, password string) (tls.Certificate, error) {
	lower := strings.ToLower(certPath)
	if strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
		data, err := os.ReadFile(certPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
		}
		priv, cert, err := pkcs12.Decode(data, password)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
		}
		return tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: priv, Leaf: cert}, nil
	}
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("cargar PEM: %w", err)
	}
	return cert, nil
}

// NewXMLSigner construye el firmador. El certificado debe traer llave privada RSA.
func NewXMLSigner(cert tls.Certificate) (*XMLSigner, error) {
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("sii: el certificado debe incluir llave privada RSA")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("sii: certificado vacío")
	}
	leaf := cert.Leaf
	if leaf == nil {
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, fmt.Errorf("sii: parsear certificado: %w", err)
		}
	}
	return &XMLSigner{key: priv, cert: leaf}, nil
}

// Sign firma cada <Documento> (firma hermana dentro de <DTE>) y después el <SetDTE>
// (firma al final de <EnvioDTE>).
func (s *XMLSigner) Sign(xmlBytes []byte) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("sii: XML vacío")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("sii: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("sii: documento sin raíz")
	}

	for _, d := range root.FindElements("//DTE/Documento") {
		sig, err := s.signatureFor(d, "#"+d.SelectAttrValue("ID", ""))
		if err != nil {
			return nil, err
		}
		d.Parent().AddChild(sig)
	}

	set := root.FindElement("SetDTE")
	if set == nil {
		return nil, fmt.Errorf("sii: no se encontró SetDTE")
	}
	sig, err := s.signatureFor(set, "#"+set.SelectAttrValue("ID", ""))
	if err != nil {
		return nil, err
	}
	root.AddChild(sig)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sii: serializar XML firmado: %w", err)
	}
	return out, nil
}

// SignSeed arma y firma el <getToken> con la semilla (Reference URI="").
func (s *XMLSigner) SignSeed(seed string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0"`)
	getToken := doc.CreateElement("getToken")
	getToken.CreateElement("item").CreateElement("Semilla").SetText(seed)

	sig, err := s.signatureFor(getToken, "")
	if err != nil {
		return nil, err
	}
	getToken.AddChild(sig)
	return doc.WriteToBytes()
}

// signatureFor calcula el digest del elemento y arma <Signature> con SignedInfo,
// SignatureValue y KeyInfo.
func (s *XMLSigner) signatureFor(el *etree.Element, uri string) (*etree.Element, error) {
	canonical, err := canonicalElement(el)
	if err != nil {
		return nil, fmt.Errorf("sii: canonicalizar %s: %w", el.Tag, err)
	}
	digest := sha1.Sum(canonical)

	signedInfo := etree.NewElement("SignedInfo")
	signedInfo.CreateAttr("xmlns", NamespaceDS)
	signedInfo.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", AlgC14N)
	signedInfo.CreateElement("SignatureMethod").CreateAttr("Algorithm", AlgRSASHA1)
	ref := signedInfo.CreateElement("Reference")
	ref.CreateAttr("URI", uri)
	ref.CreateElement("Transforms").CreateElement("Transform").CreateAttr("Algorithm", TransformEnveloped)
	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", AlgSHA1)
	ref.CreateElement("DigestValue").SetText(base64.StdEncoding.EncodeToString(digest[:]))

	canonicalSI, err := canonicalElement(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("sii: canonicalizar SignedInfo: %w", err)
	}
	h := sha1.Sum(canonicalSI)
	value, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, h[:])
	if err != nil {
		return nil, fmt.Errorf("sii: firmar SignedInfo: %w", err)
	}

	sig := etree.NewElement("Signature")
	sig.CreateAttr("xmlns", NamespaceDS)
	signedInfo.RemoveAttr("xmlns")
	sig.AddChild(signedInfo)
	sig.CreateElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))
	keyInfo := sig.CreateElement("KeyInfo")
	rsaKey := keyInfo.CreateElement("KeyValue").CreateElement("RSAKeyValue")
	rsaKey.CreateElement("Modulus").SetText(base64.StdEncoding.EncodeToString(s.key.N.Bytes()))
	rsaKey.CreateElement("Exponent").SetText(base64.StdEncoding.EncodeToString(big.NewInt(int64(s.key.E)).Bytes()))
	keyInfo.CreateElement("X509Data").CreateElement("X509Certificate").SetText(base64.StdEncoding.EncodeToString(s.cert.Raw))
	return sig, nil
}

// canonicalElement C14N del elemento como documento propio, con el namespace por
// defecto heredado de sus ancestros.
func canonicalElement(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	if cp.SelectAttr("xmlns") == nil {
		if ns := inheritedNamespace(el); ns != "" {
			cp.CreateAttr("xmlns", ns)
		}
	}
	doc := etree.NewDocument()
	doc.SetRoot(cp)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func inheritedNamespace(el *etree.Element) string {
	for p := el.Parent(); p != nil; p = p.Parent() {
		if a := p.SelectAttr("xmlns"); a != nil {
			return a.Value
		}
	}
	return ""
}
