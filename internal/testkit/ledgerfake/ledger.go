// Package ledgerfake provides an in-memory ledger and faucet for relayer tests.
package ledgerfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

// Ledger is a scriptable ledger.Client and ledger.Faucet that records calls.
type Ledger struct {
	mu sync.Mutex

	// Passphrase hashes submitted envelopes. Defaults to the test network.
	Passphrase string
	// Latest is the sequence returned by GetLatestLedger.
	Latest uint32
	// LedgersPerSend advances Latest on each SendTransaction.
	LedgersPerSend uint32
	// Accounts maps G... addresses to their sequence numbers.
	Accounts map[string]int64
	// Entries maps base64 ledger keys to entry data.
	Entries map[string]xdr.LedgerEntryData

	SimulateFunc func(env xdr.TransactionEnvelope) (ledger.Simulation, error)
	SendFunc     func(env xdr.TransactionEnvelope) (ledger.SendResult, error)
	StatusFunc   func(hash string, attempt int) (ledger.TransactionStatus, error)
	FundFunc     func(address string) error

	Calls     []string
	Simulated []xdr.TransactionEnvelope
	Sent      []xdr.TransactionEnvelope
	Funded    []string
	polls     map[string]int
}

// New returns a ledger at sequence latest with no accounts.
func New(latest uint32) *Ledger {
	return &Ledger{
		Passphrase: network.TestNetworkPassphrase,
		Latest:     latest,
		Accounts:   make(map[string]int64),
		Entries:    make(map[string]xdr.LedgerEntryData),
		polls:      make(map[string]int),
	}
}

var (
	_ ledger.Client = (*Ledger)(nil)
	_ ledger.Faucet = (*Ledger)(nil)
)

func (l *Ledger) record(method string) {
	l.Calls = append(l.Calls, method)
}

// CallCount reports how many times method was called.
func (l *Ledger) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, call := range l.Calls {
		if call == method {
			count++
		}
	}
	return count
}

// SentCount reports how many envelopes were submitted.
func (l *Ledger) SentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Sent)
}

// SetLatest moves the ledger to sequence.
func (l *Ledger) SetLatest(sequence uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Latest = sequence
}

// PutEntry stores data under key.
func (l *Ledger) PutEntry(key xdr.LedgerKey, data xdr.LedgerEntryData) error {
	encoded, err := xdr.MarshalBase64(key)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries[encoded] = data
	return nil
}

// PutContractInstance marks contract as deployed.
func (l *Ledger) PutContractInstance(contract xdr.ScAddress) error {
	key := xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   contract,
			Key:        xdr.ScVal{Type: xdr.ScValTypeScvLedgerKeyContractInstance},
			Durability: xdr.ContractDataDurabilityPersistent,
		},
	}
	return l.PutEntry(key, xdr.LedgerEntryData{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.ContractDataEntry{
			Contract:   contract,
			Key:        key.ContractData.Key,
			Durability: xdr.ContractDataDurabilityPersistent,
			Val:        xdr.ScVal{Type: xdr.ScValTypeScvVoid},
		},
	})
}

// GetLatestLedger returns Latest.
func (l *Ledger) GetLatestLedger(ctx context.Context) (ledger.LatestLedger, error) {
	if err := ctx.Err(); err != nil {
		return ledger.LatestLedger{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getLatestLedger")
	return ledger.LatestLedger{ID: fmt.Sprintf("ledger-%d", l.Latest), Sequence: l.Latest, ProtocolVersion: 21}, nil
}

// GetAccount returns the account sequence from Accounts.
func (l *Ledger) GetAccount(ctx context.Context, address string) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getAccount")
	seq, ok := l.Accounts[address]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%s: %w", address, ledger.ErrAccountNotFound)
	}
	return ledger.Account{Address: address, Sequence: seq}, nil
}

// GetLedgerEntries returns the stored entries for keys.
func (l *Ledger) GetLedgerEntries(ctx context.Context, keys ...xdr.LedgerKey) ([]ledger.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getLedgerEntries")
	var out []ledger.LedgerEntry
	for _, key := range keys {
		encoded, err := xdr.MarshalBase64(key)
		if err != nil {
			return nil, err
		}
		if data, ok := l.Entries[encoded]; ok {
			out = append(out, ledger.LedgerEntry{Key: key, Data: data, LastModifiedLedger: l.Latest})
		}
	}
	return out, nil
}

// SimulateTransaction delegates to SimulateFunc, defaulting to an empty success.
func (l *Ledger) SimulateTransaction(ctx context.Context, env xdr.TransactionEnvelope) (ledger.Simulation, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Simulation{}, err
	}
	l.mu.Lock()
	l.record("simulateTransaction")
	l.Simulated = append(l.Simulated, env)
	fn := l.SimulateFunc
	latest := l.Latest
	l.mu.Unlock()

	if fn == nil {
		return ledger.Simulation{Results: []ledger.SimulationResult{{}}, LatestLedger: latest}, nil
	}
	return fn(env)
}

// SendTransaction delegates to SendFunc, defaulting to PENDING. Accepted
// envelopes bump the source account sequence.
func (l *Ledger) SendTransaction(ctx context.Context, env xdr.TransactionEnvelope) (ledger.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return ledger.SendResult{}, err
	}
	hash, err := network.HashTransactionInEnvelope(env, l.Passphrase)
	if err != nil {
		return ledger.SendResult{}, err
	}

	l.mu.Lock()
	l.record("sendTransaction")
	l.Sent = append(l.Sent, env)
	l.Latest += l.LedgersPerSend
	fn := l.SendFunc
	l.mu.Unlock()

	result := ledger.SendResult{Status: ledger.SendPending, Hash: fmt.Sprintf("%x", hash[:])}
	if fn != nil {
		result, err = fn(env)
		if err != nil {
			return ledger.SendResult{}, err
		}
		if result.Hash == "" {
			result.Hash = fmt.Sprintf("%x", hash[:])
		}
	}
	if result.Status == ledger.SendPending && env.V1 != nil {
		l.mu.Lock()
		source := env.V1.Tx.SourceAccount.Address()
		if _, ok := l.Accounts[source]; ok {
			l.Accounts[source] = int64(env.V1.Tx.SeqNum)
		}
		l.mu.Unlock()
	}
	return result, nil
}

// GetTransaction delegates to StatusFunc, defaulting to SUCCESS.
func (l *Ledger) GetTransaction(ctx context.Context, hash string) (ledger.TransactionStatus, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TransactionStatus{}, err
	}
	l.mu.Lock()
	l.record("getTransaction")
	l.polls[hash]++
	attempt := l.polls[hash]
	fn := l.StatusFunc
	latest := l.Latest
	l.mu.Unlock()

	if fn == nil {
		return ledger.TransactionStatus{Status: ledger.TxSuccess, Hash: hash, Ledger: latest, LatestLedger: latest}, nil
	}
	return fn(hash, attempt)
}

// Fund records address and delegates to FundFunc. Funded accounts start at
// sequence zero.
func (l *Ledger) Fund(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.record("fund")
	l.Funded = append(l.Funded, address)
	fn := l.FundFunc
	l.mu.Unlock()

	if fn != nil {
		if err := fn(address); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.Accounts[address]; !ok {
		l.Accounts[address] = 0
	}
	return nil
}
