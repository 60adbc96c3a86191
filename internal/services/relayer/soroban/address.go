// Package soroban holds XDR helpers for building, pricing, and signing
// Soroban contract invocations.
package soroban

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// ParseAddress converts a G... account or C... contract strkey to an ScAddress.
func ParseAddress(value string) (xdr.ScAddress, error) {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(value, "C"):
		raw, err := strkey.Decode(strkey.VersionByteContract, value)
		if err != nil {
			return xdr.ScAddress{}, fmt.Errorf("contract address %q: %w", value, err)
		}
		var id xdr.Hash
		copy(id[:], raw)
		return ContractAddress(id), nil
	case strings.HasPrefix(value, "G"):
		accountID, err := xdr.AddressToAccountId(value)
		if err != nil {
			return xdr.ScAddress{}, fmt.Errorf("account address %q: %w", value, err)
		}
		return xdr.ScAddress{
			Type:      xdr.ScAddressTypeScAddressTypeAccount,
			AccountId: &accountID,
		}, nil
	default:
		return xdr.ScAddress{}, fmt.Errorf("unsupported address %q", value)
	}
}

// ContractAddress wraps a contract id.
func ContractAddress(id xdr.Hash) xdr.ScAddress {
	return xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &id,
	}
}

// AddressString renders an ScAddress as a strkey.
func AddressString(address xdr.ScAddress) (string, error) {
	switch address.Type {
	case xdr.ScAddressTypeScAddressTypeContract:
		if address.ContractId == nil {
			return "", fmt.Errorf("contract address has no id")
		}
		return strkey.Encode(strkey.VersionByteContract, address.ContractId[:])
	case xdr.ScAddressTypeScAddressTypeAccount:
		if address.AccountId == nil {
			return "", fmt.Errorf("account address has no id")
		}
		return address.AccountId.GetAddress()
	default:
		return "", fmt.Errorf("unsupported address type %d", address.Type)
	}
}

// ContractID derives the id of a contract created by deployer with salt, as
// the host computes it for CreateContract from an address preimage.
func ContractID(networkPassphrase string, deployer xdr.ScAddress, salt [32]byte) (xdr.Hash, error) {
	preimage := xdr.HashIdPreimage{
		Type: xdr.EnvelopeTypeEnvelopeTypeContractId,
		ContractId: &xdr.HashIdPreimageContractId{
			NetworkId: xdr.Hash(network.ID(networkPassphrase)),
			ContractIdPreimage: xdr.ContractIdPreimage{
				Type: xdr.ContractIdPreimageTypeContractIdPreimageFromAddress,
				FromAddress: &xdr.ContractIdPreimageFromAddress{
					Address: deployer,
					Salt:    xdr.Uint256(salt),
				},
			},
		},
	}
	raw, err := preimage.MarshalBinary()
	if err != nil {
		return xdr.Hash{}, fmt.Errorf("encode contract id preimage: %w", err)
	}
	return xdr.Hash(sha256.Sum256(raw)), nil
}

// ContractInstanceKey is the ledger key of a contract's instance entry; its
// presence means the contract is deployed.
func ContractInstanceKey(contract xdr.ScAddress) xdr.LedgerKey {
	return xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   contract,
			Key:        xdr.ScVal{Type: xdr.ScValTypeScvLedgerKeyContractInstance},
			Durability: xdr.ContractDataDurabilityPersistent,
		},
	}
}
