package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
)

const signingKeyBits = 2048

// KeySet holds the RSA key console tokens are signed with. The key id is
// the RFC 7638 thumbprint, so replicas loading the same PEM publish the
// same kid.
type KeySet struct {
	privateKey *rsa.PrivateKey
	kid        string
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// NewKeySet generates an ephemeral key. Tokens it signs stop validating
// when the process restarts.
func NewKeySet() (*KeySet, error) {
	pk, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return newKeySet(pk)
}

// LoadKeySet reads a PKCS#1 or PKCS#8 RSA private key from a PEM file.
func LoadKeySet(path string) (*KeySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	pk, err := parseRSAPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("signing key %s: %w", path, err)
	}
	return newKeySet(pk)
}

func parseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rk, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key is %T, want RSA", key)
		}
		return rk, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

func newKeySet(pk *rsa.PrivateKey) (*KeySet, error) {
	if pk.N.BitLen() < signingKeyBits {
		return nil, fmt.Errorf("signing key has %d bits, need at least %d", pk.N.BitLen(), signingKeyBits)
	}
	kid, err := thumbprint(&pk.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeySet{privateKey: pk, kid: kid}, nil
}

func (ks *KeySet) PrivateKey() *rsa.PrivateKey { return ks.privateKey }

func (ks *KeySet) PublicKey() *rsa.PublicKey {
	if ks == nil || ks.privateKey == nil {
		return nil
	}
	return &ks.privateKey.PublicKey
}

func (ks *KeySet) KeyID() string { return ks.kid }

func (ks *KeySet) JWKS() (JWKS, error) {
	pub := ks.PublicKey()
	if pub == nil {
		return JWKS{}, errors.New("missing public key")
	}
	return JWKS{Keys: []JWK{rsaPublicJWK(ks.kid, pub)}}, nil
}

func rsaPublicJWK(kid string, pub *rsa.PublicKey) JWK {
	n, e := rsaComponents(pub)
	return JWK{Kty: "RSA", Use: "sig", Alg: "RS256", Kid: kid, N: n, E: e}
}

// rsaComponents returns the base64url big-endian modulus and exponent.
func rsaComponents(pub *rsa.PublicKey) (n, e string) {
	n = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	return n, e
}

// thumbprint hashes the required members in lexical order (RFC 7638 §3).
func thumbprint(pub *rsa.PublicKey) (string, error) {
	n, e := rsaComponents(pub)
	b, err := json.Marshal(struct {
		E   string `json:"e"`
		Kty string `json:"kty"`
		N   string `json:"n"`
	}{E: e, Kty: "RSA", N: n})
	if err != nil {
		return "", fmt.Errorf("thumbprint: %w", err)
	}
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
