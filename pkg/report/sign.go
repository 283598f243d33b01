package report

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/attest/pkg/canonical"
)

// kdfSalt separates report key derivation from any other use of the root
// seed. Changing it invalidates every previously issued signature.
var kdfSalt = []byte("attest-report-kdf")

// Signer derives a per-run Ed25519 keypair from a root seed with
// HKDF-SHA256 and signs report digests with it. Per-run keys mean a
// leaked run key cannot forge reports for other runs.
type Signer struct {
	seed []byte
}

// NewSigner builds a signer from a root seed. The seed must be at least
// 32 bytes of secret key material.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("signing seed must be at least 32 bytes, got %d", len(seed))
	}
	out := make([]byte, len(seed))
	copy(out, seed)
	return &Signer{seed: out}, nil
}

// NewRandomSigner builds a signer from a fresh random seed. Reports
// signed with it verify but cannot be re-verified after restart.
func NewRandomSigner() (*Signer, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate signing seed: %w", err)
	}
	return &Signer{seed: seed}, nil
}

func (s *Signer) keyFor(runID string) (ed25519.PrivateKey, error) {
	r := hkdf.New(sha256.New, s.seed, kdfSalt, []byte("attest:report:"+runID))
	derived := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("derive run key: %w", err)
	}
	return ed25519.NewKeyFromSeed(derived), nil
}

// Sign computes the report digest over every field except Digest,
// Signature, and PublicKey, then signs it with the run-derived key.
func (s *Signer) Sign(r *Report) error {
	priv, err := s.keyFor(r.RunID)
	if err != nil {
		return err
	}

	digest, err := digest(r)
	if err != nil {
		return err
	}

	r.Digest = digest
	r.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(digest)))
	r.PublicKey = hex.EncodeToString(priv.Public().(ed25519.PublicKey))
	return nil
}

// Verify recomputes the digest and checks the embedded signature against
// the embedded public key.
func Verify(r *Report) error {
	if r.Digest == "" || r.Signature == "" || r.PublicKey == "" {
		return fmt.Errorf("report is unsigned")
	}

	want, err := digest(r)
	if err != nil {
		return err
	}
	if want != r.Digest {
		return fmt.Errorf("report digest mismatch: report was modified after signing")
	}

	pub, err := hex.DecodeString(r.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("malformed public key")
	}
	sig, err := base64.StdEncoding.DecodeString(r.Signature)
	if err != nil {
		return fmt.Errorf("malformed signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(r.Digest), sig) {
		return fmt.Errorf("report signature invalid")
	}
	return nil
}

func digest(r *Report) (string, error) {
	unsigned := *r
	unsigned.Digest = ""
	unsigned.Signature = ""
	unsigned.PublicKey = ""
	h, err := canonical.Hash(&unsigned)
	if err != nil {
		return "", fmt.Errorf("hash report: %w", err)
	}
	return h, nil
}
