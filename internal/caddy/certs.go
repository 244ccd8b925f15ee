package caddy

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"
)

// CertInfo summarizes one parsed certificate.
type CertInfo struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	DNSNames  []string  `json:"dns_names,omitempty"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	IsCA      bool      `json:"is_ca,omitempty"`
}

// Expired reports whether the certificate is outside its validity window.
func (c CertInfo) Expired(now time.Time) bool {
	return now.Before(c.NotBefore) || now.After(c.NotAfter)
}

// ParseCertificates parses a PEM bundle into certificate summaries.
// Non-certificate PEM blocks (keys, params) are skipped.
func ParseCertificates(pemData []byte) ([]CertInfo, error) {
	var infos []CertInfo

	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		infos = append(infos, CertInfo{
			Subject:   cert.Subject.String(),
			Issuer:    cert.Issuer.String(),
			DNSNames:  cert.DNSNames,
			NotBefore: cert.NotBefore,
			NotAfter:  cert.NotAfter,
			IsCA:      cert.IsCA,
		})
	}

	if len(infos) == 0 {
		return nil, fmt.Errorf("no certificates found in PEM data")
	}
	return infos, nil
}

// caInfoPath is the admin endpoint describing Caddy's local certificate
// authority.
const caInfoPath = "/pki/ca/local"

// CACertificates fetches the local CA's root and intermediate certificates
// and returns their parsed summaries, root first.
func (c *Client) CACertificates(ctx context.Context) ([]CertInfo, error) {
	body, err := c.Request(ctx, caInfoPath, RequestOptions{Method: http.MethodGet})
	if err != nil {
		return nil, err
	}

	var ca struct {
		RootCertificate         string `json:"root_certificate"`
		IntermediateCertificate string `json:"intermediate_certificate"`
	}
	if err := json.Unmarshal(body, &ca); err != nil {
		return nil, fmt.Errorf("failed to decode CA info: %w", err)
	}

	bundle := append([]byte(ca.RootCertificate), []byte(ca.IntermediateCertificate)...)
	return ParseCertificates(bundle)
}
