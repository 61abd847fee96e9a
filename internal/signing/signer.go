// Package signing produces the Ed25519 trust binding for validated tune
// packages: a signature over a canonical payload tying the version id to
// the tune, manifest, and package digests, plus the hashes.json companion
// artifact clients use for offline verification.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/google/uuid"

	"github.com/revsync/revsync/internal/common"
)

// Signer holds the resolved private key and its rotation identifier.
type Signer struct {
	priv      ed25519.PrivateKey
	keyID     string
	ephemeral bool
}

// Options selects the key material. Resolution order: KeyB64 (base64 of a
// PEM PKCS#8 key), then KeyPEM, then a freshly generated ephemeral key.
// Ephemeral keys are refused in production because their signatures cannot
// be verified after a restart.
type Options struct {
	KeyB64     string
	KeyPEM     string
	KeyID      string
	Production bool
}

// NewSigner resolves the signing key per the Options order.
func NewSigner(opts Options) (*Signer, error) {
	keyID := opts.KeyID
	if keyID == "" {
		keyID = "rev-1"
	}

	if opts.KeyB64 != "" {
		pemBytes, err := base64.StdEncoding.DecodeString(opts.KeyB64)
		if err != nil {
			return nil, fmt.Errorf("decode base64 signing key: %w", err)
		}
		priv, err := parsePrivateKeyPEM(pemBytes)
		if err != nil {
			return nil, err
		}
		return &Signer{priv: priv, keyID: keyID}, nil
	}

	if opts.KeyPEM != "" {
		priv, err := parsePrivateKeyPEM([]byte(opts.KeyPEM))
		if err != nil {
			return nil, err
		}
		return &Signer{priv: priv, keyID: keyID}, nil
	}

	if opts.Production {
		return nil, common.ErrEphemeralForbidden
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return &Signer{priv: priv, keyID: keyID + "-ephemeral", ephemeral: true}, nil
}

func parsePrivateKeyPEM(pemBytes []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("signing key is not valid PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 signing key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not Ed25519")
	}
	return priv, nil
}

// KeyID returns the rotation identifier recorded next to every signature.
func (s *Signer) KeyID() string { return s.keyID }

// Ephemeral reports whether the key was generated at startup. Callers log
// this loudly: such signatures die with the process.
func (s *Signer) Ephemeral() bool { return s.ephemeral }

// Binding is the payload the signature covers. A verifying client
// reconstructs it from the hashes artifact and checks the signature
// without trusting any other field.
type Binding struct {
	ManifestHash string    `json:"manifest_hash"`
	PackageHash  string    `json:"package_hash"`
	TuneHash     string    `json:"tune_hash"`
	VersionID    uuid.UUID `json:"version_id"`
}

// canonical serializes the binding with sorted keys and compact
// separators. encoding/json emits struct fields in declaration order, so
// the fields above are kept alphabetical by JSON name.
func (b Binding) canonical() ([]byte, error) {
	return json.Marshal(b)
}

// SignBinding signs the canonical binding payload and returns the
// signature base64-encoded.
func (s *Signer) SignBinding(b Binding) (string, error) {
	payload, err := b.canonical()
	if err != nil {
		return "", fmt.Errorf("marshal binding: %w", err)
	}
	sig := ed25519.Sign(s.priv, payload)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature against the binding with this signer's
// public key.
func (s *Signer) Verify(b Binding, sigB64 string) (bool, error) {
	payload, err := b.canonical()
	if err != nil {
		return false, fmt.Errorf("marshal binding: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	pub := s.priv.Public().(ed25519.PublicKey)
	return ed25519.Verify(pub, payload, sig), nil
}

// PublicKeyPEM returns the PKIX PEM encoding of the public key for
// distribution to verifying clients.
func (s *Signer) PublicKeyPEM() (string, error) {
	pub := s.priv.Public().(ed25519.PublicKey)
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return string(out), nil
}

// PublicKeyRawB64 returns the raw 32-byte public key base64-encoded, the
// compact form embedded in client builds.
func (s *Signer) PublicKeyRawB64() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}
