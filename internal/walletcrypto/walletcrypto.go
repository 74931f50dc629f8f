// Package walletcrypto encrypts and decrypts stored viewing keys: a
// nonce-prefixed ChaCha20-Poly1305 envelope keyed by one symmetric key the
// indexer process holds (config.Secrets.SymmetricKeyHex), never by anything
// derived from the viewing key itself.
//
// This is distinct from internal/ledger's TrialDecrypt, which is the
// ledger-runtime-side AEAD keyed by the viewing key, used to open shielded
// notes rather than to protect the key at rest. Both use the same cipher
// family because the spec names it for both, not because they share a key.
//
// The envelope shape (random nonce prefixed to the AEAD ciphertext, with no
// version field; seal/open)
// follows the teacher's internal/wallet/crypto.go seed-encryption pattern,
// generalized from its password-derived AES-256-GCM key to a single
// operator-provisioned ChaCha20-Poly1305 key, since there is no password
// in this domain.
package walletcrypto

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
)

// Box seals and opens viewing-key envelopes with one process-wide key.
type Box struct {
	aead chacha20poly1305.AEAD
}

// NewBox decodes keyHex (must be exactly 32 bytes) and constructs a Box.
func NewBox(keyHex string) (*Box, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "decode symmetric key hex", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, apperr.New(apperr.KindMalformed, "symmetric key must be 32 bytes")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "construct aead", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts viewingKey with a fresh random nonce, returning
// nonce || ciphertext. Sealing the same key twice never produces the same
// bytes, since the nonce is resampled every call.
func (b *Box) Seal(viewingKey []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperr.Wrap(apperr.KindResource, "generate nonce", err)
	}
	sealed := b.aead.Seal(nil, nonce, viewingKey, nil)
	return append(nonce, sealed...), nil
}

// Open decrypts an envelope produced by Seal. A failure here (corrupt
// storage, wrong key after a rotation) is wallet-logic, not transient: the
// caller should deactivate the wallet rather than retry.
func (b *Box) Open(envelope []byte) ([]byte, error) {
	if len(envelope) < b.aead.NonceSize() {
		return nil, apperr.New(apperr.KindWalletLogic, "viewing key envelope too short")
	}
	nonce, sealed := envelope[:b.aead.NonceSize()], envelope[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindWalletLogic, "open viewing key envelope", err)
	}
	return plain, nil
}
