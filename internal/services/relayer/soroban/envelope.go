package soroban

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

// Invocation describes a single contract call.
type Invocation struct {
	Contract xdr.ScAddress
	Function string
	Args     []xdr.ScVal
}

// BuildEnvelope builds an unsigned invocation transaction from source. The
// transaction sequence is accountSeq+1; fee is carried as given and the time
// bounds are zero, so the envelope never expires on its own.
func BuildEnvelope(source string, accountSeq int64, fee uint32, call Invocation) (xdr.TransactionEnvelope, error) {
	var sourceAccount xdr.MuxedAccount
	if err := sourceAccount.SetAddress(source); err != nil {
		return xdr.TransactionEnvelope{}, fmt.Errorf("source account %q: %w", source, err)
	}
	if call.Function == "" {
		return xdr.TransactionEnvelope{}, fmt.Errorf("function name is required")
	}

	op := xdr.Operation{
		Body: xdr.OperationBody{
			Type: xdr.OperationTypeInvokeHostFunction,
			InvokeHostFunctionOp: &xdr.InvokeHostFunctionOp{
				HostFunction: xdr.HostFunction{
					Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
					InvokeContract: &xdr.InvokeContractArgs{
						ContractAddress: call.Contract,
						FunctionName:    xdr.ScSymbol(call.Function),
						Args:            call.Args,
					},
				},
			},
		},
	}

	return xdr.TransactionEnvelope{
		Type: xdr.EnvelopeTypeEnvelopeTypeTx,
		V1: &xdr.TransactionV1Envelope{
			Tx: xdr.Transaction{
				SourceAccount: sourceAccount,
				Fee:           xdr.Uint32(fee),
				SeqNum:        xdr.SequenceNumber(accountSeq + 1),
				Cond: xdr.Preconditions{
					Type:       xdr.PreconditionTypePrecondTime,
					TimeBounds: &xdr.TimeBounds{MinTime: 0, MaxTime: 0},
				},
				Memo:       xdr.Memo{Type: xdr.MemoTypeMemoNone},
				Operations: []xdr.Operation{op},
			},
		},
	}, nil
}

// InvokeOp returns the single invoke-host-function operation of envelope.
func InvokeOp(envelope *xdr.TransactionEnvelope) (*xdr.InvokeHostFunctionOp, error) {
	if envelope == nil || envelope.V1 == nil {
		return nil, fmt.Errorf("envelope is not a v1 transaction")
	}
	ops := envelope.V1.Tx.Operations
	if len(ops) != 1 {
		return nil, fmt.Errorf("envelope has %d operations, want 1", len(ops))
	}
	op := ops[0].Body.InvokeHostFunctionOp
	if op == nil {
		return nil, fmt.Errorf("operation is not an invoke host function")
	}
	return op, nil
}

// Finalize merges simulation output into envelope: authorization entries,
// resource data, and a fee covering inclusion plus resources.
func Finalize(envelope *xdr.TransactionEnvelope, data xdr.SorobanTransactionData, auth []xdr.SorobanAuthorizationEntry, inclusionFee uint32, resourceFee int64) error {
	op, err := InvokeOp(envelope)
	if err != nil {
		return err
	}
	if resourceFee < 0 {
		return fmt.Errorf("negative resource fee %d", resourceFee)
	}
	total := int64(inclusionFee) + resourceFee
	if total > math.MaxUint32 {
		return fmt.Errorf("fee %d exceeds transaction limit", total)
	}

	op.Auth = auth
	data.ResourceFee = xdr.Int64(resourceFee)
	envelope.V1.Tx.Fee = xdr.Uint32(total)
	envelope.V1.Tx.Ext = xdr.TransactionExt{V: 1, SorobanData: &data}
	envelope.V1.Signatures = nil
	return nil
}

// Sign appends signer's decorated signature over the network transaction hash.
func Sign(envelope *xdr.TransactionEnvelope, networkPassphrase string, signer *keypair.Full) error {
	if envelope == nil || envelope.V1 == nil {
		return fmt.Errorf("envelope is not a v1 transaction")
	}
	if signer == nil {
		return fmt.Errorf("signer is required")
	}
	hash, err := network.HashTransactionInEnvelope(*envelope, networkPassphrase)
	if err != nil {
		return fmt.Errorf("hash transaction: %w", err)
	}
	sig, err := signer.SignDecorated(hash[:])
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	envelope.V1.Signatures = append(envelope.V1.Signatures, sig)
	return nil
}

// TransactionHash returns the hex network hash of envelope.
func TransactionHash(envelope xdr.TransactionEnvelope, networkPassphrase string) (string, error) {
	hash, err := network.HashTransactionInEnvelope(envelope, networkPassphrase)
	if err != nil {
		return "", fmt.Errorf("hash transaction: %w", err)
	}
	return hex.EncodeToString(hash[:]), nil
}

// CloneEnvelope deep-copies envelope through its XDR encoding.
func CloneEnvelope(envelope xdr.TransactionEnvelope) (xdr.TransactionEnvelope, error) {
	raw, err := envelope.MarshalBinary()
	if err != nil {
		return xdr.TransactionEnvelope{}, fmt.Errorf("encode envelope: %w", err)
	}
	var out xdr.TransactionEnvelope
	if err := out.UnmarshalBinary(raw); err != nil {
		return xdr.TransactionEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return out, nil
}
