// Package ledger is the client side of the Soroban RPC endpoint and the
// friendbot faucet.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/stellar/go/xdr"
)

// ErrAccountNotFound indicates the account has no ledger entry yet.
var ErrAccountNotFound = errors.New("account not found")

// Client is the ledger surface consumed by the relayer pipeline.
type Client interface {
	GetLatestLedger(ctx context.Context) (LatestLedger, error)
	GetAccount(ctx context.Context, address string) (Account, error)
	GetLedgerEntries(ctx context.Context, keys ...xdr.LedgerKey) ([]LedgerEntry, error)
	SimulateTransaction(ctx context.Context, envelope xdr.TransactionEnvelope) (Simulation, error)
	SendTransaction(ctx context.Context, envelope xdr.TransactionEnvelope) (SendResult, error)
	GetTransaction(ctx context.Context, hash string) (TransactionStatus, error)
}

// Faucet funds new accounts on test networks.
type Faucet interface {
	Fund(ctx context.Context, address string) error
}

// LatestLedger describes the most recent closed ledger.
type LatestLedger struct {
	ID              string
	Sequence        uint32
	ProtocolVersion int
}

// Account is the part of an account entry the relayer needs.
type Account struct {
	Address  string
	Sequence int64
}

// LedgerEntry is one decoded entry returned by getLedgerEntries.
type LedgerEntry struct {
	Key                xdr.LedgerKey
	Data               xdr.LedgerEntryData
	LastModifiedLedger uint32
	LiveUntilLedger    uint32
}

// SimulationResult is the host function outcome of a simulation.
type SimulationResult struct {
	Auth      []xdr.SorobanAuthorizationEntry
	Return    xdr.ScVal
	ReturnXDR string
}

// RestorePreamble is present when archived entries must be restored first.
type RestorePreamble struct {
	TransactionData string
	MinResourceFee  int64
}

// Simulation is the decoded simulateTransaction response.
type Simulation struct {
	TransactionData    xdr.SorobanTransactionData
	TransactionDataXDR string
	MinResourceFee     int64
	Results            []SimulationResult
	Events             []string
	Error              string
	RestorePreamble    *RestorePreamble
	LatestLedger       uint32
}

// Failed reports whether the ledger returned a simulation error.
func (s Simulation) Failed() bool {
	return s.Error != ""
}

// NeedsRestore reports whether the invocation touches archived state.
func (s Simulation) NeedsRestore() bool {
	return s.RestorePreamble != nil
}

// SendStatus is the immediate outcome of sendTransaction.
type SendStatus string

const (
	SendPending       SendStatus = "PENDING"
	SendDuplicate     SendStatus = "DUPLICATE"
	SendTryAgainLater SendStatus = "TRY_AGAIN_LATER"
	SendError         SendStatus = "ERROR"
)

// SendResult is the decoded sendTransaction response.
type SendResult struct {
	Status              SendStatus
	Hash                string
	LatestLedger        uint32
	ErrorResultXDR      string
	DiagnosticEventsXDR []string
}

// TxStatus is the status reported by getTransaction.
type TxStatus string

const (
	TxSuccess  TxStatus = "SUCCESS"
	TxFailed   TxStatus = "FAILED"
	TxNotFound TxStatus = "NOT_FOUND"
)

// Terminal reports whether polling can stop.
func (s TxStatus) Terminal() bool {
	return s == TxSuccess || s == TxFailed
}

// TransactionStatus is the decoded getTransaction response.
type TransactionStatus struct {
	Status        TxStatus
	Hash          string
	Ledger        uint32
	LatestLedger  uint32
	EnvelopeXDR   string
	ResultXDR     string
	ResultMetaXDR string
}

// ledgerSeq accepts ledger numbers encoded either as JSON numbers or strings.
type ledgerSeq uint32

func (l *ledgerSeq) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*l = 0
		return nil
	}
	value, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return fmt.Errorf("parse ledger sequence %q: %w", data, err)
	}
	*l = ledgerSeq(value)
	return nil
}

// stroops accepts fee amounts encoded either as JSON numbers or strings.
type stroops int64

func (s *stroops) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*s = 0
		return nil
	}
	value, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse fee %q: %w", data, err)
	}
	*s = stroops(value)
	return nil
}
