package transport

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
)

// DKIMConfig enables signing when Selector and a key are set.
type DKIMConfig struct {
	Selector string `mapstructure:"selector"`
	// Domain overrides the domain taken from the From address.
	Domain     string `mapstructure:"domain"`
	KeyFile    string `mapstructure:"key_file"`
	PrivateKey string `mapstructure:"private_key"` // inline PEM
}

func (c DKIMConfig) enabled() bool {
	return c.Selector != "" || c.KeyFile != "" || c.PrivateKey != ""
}

// Signer adds a DKIM-Signature header to outgoing messages.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

// NewSigner returns nil, nil when cfg does not enable DKIM.
func NewSigner(cfg DKIMConfig) (*Signer, error) {
	if !cfg.enabled() {
		return nil, nil
	}
	if cfg.Selector == "" {
		return nil, errors.New("dkim: selector is required")
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case cfg.KeyFile != "":
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, errors.New("dkim: key_file or private_key is required")
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	return &Signer{
		domain:   strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector: cfg.Selector,
		key:      key,
		headerKeys: []string{
			"from", "to", "cc", "subject", "date",
			"mime-version", "content-type", "message-id",
		},
	}, nil
}

// Sign returns data with a DKIM-Signature prepended. A message that is
// already signed is returned unchanged. A nil Signer is a no-op.
func (s *Signer) Sign(data []byte, from string) ([]byte, error) {
	if s == nil {
		return data, nil
	}
	if hasSignature(data) {
		return data, nil
	}
	domain := s.domain
	if domain == "" {
		domain = domainOf(from)
	}
	if domain == "" {
		return nil, errors.New("dkim: unable to determine signing domain")
	}

	var signed bytes.Buffer
	err := dkim.Sign(&signed, bytes.NewReader(data), &dkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("dkim: sign: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			return nil, errors.New("no private key found in PEM data")
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, fmt.Errorf("unsupported PKCS#8 key type %T", key)
			}
			return signer, nil
		}
		pemData = rest
	}
}

func domainOf(address string) string {
	address = strings.Trim(strings.TrimSpace(address), "<>")
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}

func hasSignature(data []byte) bool {
	upper := bytes.ToUpper(data)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) ||
		bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}
