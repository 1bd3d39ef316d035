package credentials

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// parseECPrivateKeyPEM accepts a PEM-encoded EC private key in either SEC1
// ("EC PRIVATE KEY") or PKCS#8 ("PRIVATE KEY") form, mirroring the
// try-PKCS1-then-PKCS8 fallback the teacher uses for RSA keys in
// internal/auth/providers.go's LoadPrivateKey.
func parseECPrivateKeyPEM(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from playback signing key")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	keyInterface, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse EC private key (tried SEC1 and PKCS8): %w", err)
	}
	key, ok := keyInterface.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("playback signing key is not an EC private key")
	}
	return key, nil
}
