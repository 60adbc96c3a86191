package ledgerfake

import (
	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/louisbranch/soropass/internal/services/relayer/soroban"
	"github.com/stellar/go/xdr"
)

// AddressAuth returns an unsigned entry asking account to authorize call.
func AddressAuth(account xdr.ScAddress, nonce int64, call soroban.Invocation) xdr.SorobanAuthorizationEntry {
	return xdr.SorobanAuthorizationEntry{
		Credentials: xdr.SorobanCredentials{
			Type: xdr.SorobanCredentialsTypeSorobanCredentialsAddress,
			Address: &xdr.SorobanAddressCredentials{
				Address:   account,
				Nonce:     xdr.Int64(nonce),
				Signature: xdr.ScVal{Type: xdr.ScValTypeScvVoid},
			},
		},
		RootInvocation: rootInvocation(call),
	}
}

// SourceAuth returns an entry covered by the envelope source signature.
func SourceAuth(call soroban.Invocation) xdr.SorobanAuthorizationEntry {
	return xdr.SorobanAuthorizationEntry{
		Credentials:    xdr.SorobanCredentials{Type: xdr.SorobanCredentialsTypeSorobanCredentialsSourceAccount},
		RootInvocation: rootInvocation(call),
	}
}

// AuthSimulation returns a successful simulation that requests entries and
// charges resourceFee.
func AuthSimulation(resourceFee int64, entries ...xdr.SorobanAuthorizationEntry) ledger.Simulation {
	return ledger.Simulation{
		TransactionData: xdr.SorobanTransactionData{
			Resources:   xdr.SorobanResources{Instructions: 1000},
			ResourceFee: xdr.Int64(resourceFee),
		},
		MinResourceFee: resourceFee,
		Results:        []ledger.SimulationResult{{Auth: entries, Return: xdr.ScVal{Type: xdr.ScValTypeScvVoid}}},
	}
}

func rootInvocation(call soroban.Invocation) xdr.SorobanAuthorizedInvocation {
	return xdr.SorobanAuthorizedInvocation{
		Function: xdr.SorobanAuthorizedFunction{
			Type: xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeContractFn,
			ContractFn: &xdr.InvokeContractArgs{
				ContractAddress: call.Contract,
				FunctionName:    xdr.ScSymbol(call.Function),
				Args:            call.Args,
			},
		},
	}
}
