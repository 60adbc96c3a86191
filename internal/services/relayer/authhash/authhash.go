// Package authhash computes the payload a smart account signs to authorize a
// Soroban invocation.
package authhash

import (
	"crypto/sha256"
	"fmt"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

// ValidityWindow is how many ledgers past the current one a signature stays valid.
const ValidityWindow uint32 = 100

// ExpirationLedger returns the signature expiration ledger for current.
func ExpirationLedger(current uint32) uint32 {
	return current + ValidityWindow
}

// Preimage builds the soroban-authorization preimage the host reconstructs
// when it verifies the signature.
func Preimage(networkPassphrase string, nonce int64, expirationLedger uint32, invocation xdr.SorobanAuthorizedInvocation) xdr.HashIdPreimage {
	return xdr.HashIdPreimage{
		Type: xdr.EnvelopeTypeEnvelopeTypeSorobanAuthorization,
		SorobanAuthorization: &xdr.HashIdPreimageSorobanAuthorization{
			NetworkId:                 xdr.Hash(network.ID(networkPassphrase)),
			Nonce:                     xdr.Int64(nonce),
			SignatureExpirationLedger: xdr.Uint32(expirationLedger),
			Invocation:                invocation,
		},
	}
}

// Compute returns SHA-256 over the XDR encoding of the preimage.
func Compute(networkPassphrase string, nonce int64, expirationLedger uint32, invocation xdr.SorobanAuthorizedInvocation) ([32]byte, error) {
	raw, err := Preimage(networkPassphrase, nonce, expirationLedger, invocation).MarshalBinary()
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode authorization preimage: %w", err)
	}
	return sha256.Sum256(raw), nil
}

// ForEntry computes the hash for an address-credential authorization entry,
// taking the nonce and root invocation from the entry.
func ForEntry(entry xdr.SorobanAuthorizationEntry, networkPassphrase string, expirationLedger uint32) ([32]byte, error) {
	creds := entry.Credentials.Address
	if entry.Credentials.Type != xdr.SorobanCredentialsTypeSorobanCredentialsAddress || creds == nil {
		return [32]byte{}, apperrors.New(apperrors.CodeInvalidArgument, "authorization entry has no address credentials")
	}
	return Compute(networkPassphrase, int64(creds.Nonce), expirationLedger, entry.RootInvocation)
}
