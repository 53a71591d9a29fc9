// Package security provides cryptographic authentication of oracle submissions.
package security

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Verifier checks that a submission carries a valid secp256k1
// signature from the oracle it claims to come from: the submission
// digest is signed by the oracle operator, the server recovers the
// signer address and requires it to match.
type Verifier struct {
	feed     string
	required bool
}

// NewVerifier creates a verifier for the named feed. When required is
// false, submissions without a signature pass; signed submissions are
// still checked.
func NewVerifier(feed string, required bool) *Verifier {
	return &Verifier{feed: feed, required: required}
}

// Digest is the canonical submission hash oracles sign:
// keccak256(feed | roundId BE32 | decimal value).
func Digest(feed string, roundID uint32, value *big.Int) common.Hash {
	var round [4]byte
	binary.BigEndian.PutUint32(round[:], roundID)
	return crypto.Keccak256Hash([]byte(feed), round[:], []byte(value.String()))
}

// Sign produces a submission signature. Operator-side helper, also
// used by tests.
func Sign(key *ecdsa.PrivateKey, feed string, roundID uint32, value *big.Int) ([]byte, error) {
	digest := Digest(feed, roundID, value)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign submission: %w", err)
	}
	return sig, nil
}

// Recover returns the address that signed the submission digest.
func Recover(feed string, roundID uint32, value *big.Int, sig []byte) (common.Address, error) {
	digest := Digest(feed, roundID, value)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks the signature against the claimed oracle address.
func (v *Verifier) Verify(oracle common.Address, roundID uint32, value *big.Int, sig []byte) error {
	if len(sig) == 0 {
		if v.required {
			return fmt.Errorf("submission signature required")
		}
		return nil
	}

	signer, err := Recover(v.feed, roundID, value, sig)
	if err != nil {
		return err
	}
	if signer != oracle {
		logrus.WithFields(logrus.Fields{
			"claimed": oracle.Hex(),
			"signer":  signer.Hex(),
			"round":   roundID,
		}).Warn("submission signature mismatch")
		return fmt.Errorf("signature signer %s does not match oracle %s", signer.Hex(), oracle.Hex())
	}
	return nil
}
