package payment

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/x402casper/relay/internal/casper"
)

var (
	// ErrSignatureLength indicates the signature size does not match the
	// signer key's scheme.
	ErrSignatureLength = errors.New("payment: signature length does not match key scheme")

	// ErrSignatureMismatch indicates the signature does not verify over the
	// reconstructed payload.
	ErrSignatureMismatch = errors.New("payment: signature does not verify against signer key")
)

const (
	ed25519SigLen      = 64
	secp256k1SigLen    = 64 // r || s
	secp256k1SigLenRec = 65 // r || s || recovery id, as some wallets emit
)

// VerifySignature checks sig over the canonical payload against the signer's
// native scheme. Ed25519 keys sign the raw payload bytes; secp256k1 keys sign
// its sha256 digest.
func VerifySignature(signer casper.PublicKey, payload string, sig []byte) error {
	switch signer.Tag {
	case casper.TagEd25519:
		if len(sig) != ed25519SigLen {
			return ErrSignatureLength
		}
		if !ed25519.Verify(ed25519.PublicKey(signer.Bytes), []byte(payload), sig) {
			return ErrSignatureMismatch
		}
		return nil

	case casper.TagSecp256k1:
		switch len(sig) {
		case secp256k1SigLen:
		case secp256k1SigLenRec:
			sig = sig[:secp256k1SigLen]
		default:
			return ErrSignatureLength
		}
		digest := sha256.Sum256([]byte(payload))
		if !ethcrypto.VerifySignature(signer.Bytes, digest[:], sig) {
			return ErrSignatureMismatch
		}
		return nil

	default:
		return fmt.Errorf("payment: %w", casper.ErrUnknownKeyAlgorithm)
	}
}
