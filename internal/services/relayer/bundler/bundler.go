// Package bundler manages the relayer keypair that sources and pays for
// every submitted transaction.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/louisbranch/soropass/internal/services/relayer/storage"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/keypair"
	"golang.org/x/sync/singleflight"
)

// Key is the relayer keypair returned by GetOrCreate.
type Key struct {
	Pair *keypair.Full
	// Created is set when this call generated and persisted the key.
	Created bool
	// FundingErr holds a non-fatal faucet failure for a freshly created key.
	FundingErr error
}

// Address returns the relayer account address.
func (k Key) Address() string {
	if k.Pair == nil {
		return ""
	}
	return k.Pair.Address()
}

// Manager owns the persisted relayer key.
type Manager struct {
	store  storage.Store
	faucet ledger.Faucet
	log    logrus.FieldLogger

	group singleflight.Group
	mu    sync.Mutex
}

// NewManager builds a Manager. faucet may be nil to skip funding.
func NewManager(store storage.Store, faucet ledger.Faucet, log logrus.FieldLogger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Manager{
		store:  store,
		faucet: faucet,
		log:    logging.OrDiscard(log).WithField("component", "bundler"),
	}, nil
}

// GetOrCreate returns the persisted relayer key, generating, persisting, and
// funding a new one when none exists. Concurrent callers share one creation;
// a caller whose ctx ends stops waiting without failing the others.
func (m *Manager) GetOrCreate(ctx context.Context) (Key, error) {
	shared := context.WithoutCancel(ctx)
	flight := m.group.DoChan(storage.KeyRelayer, func() (any, error) {
		return m.getOrCreate(shared)
	})
	select {
	case res := <-flight:
		if res.Err != nil {
			return Key{}, res.Err
		}
		return res.Val.(Key), nil
	case <-ctx.Done():
		return Key{}, ctx.Err()
	}
}

func (m *Manager) getOrCreate(ctx context.Context) (Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.load(ctx)
	if err == nil {
		return Key{Pair: existing}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Key{}, err
	}

	pair, err := keypair.Random()
	if err != nil {
		return Key{}, fmt.Errorf("generate relayer key: %w", err)
	}
	created := true
	if err := m.store.Create(ctx, storage.KeyRelayer, pair.Seed()); err != nil {
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return Key{}, fmt.Errorf("persist relayer key: %w", err)
		}
		// Another writer got there first; adopt its key.
		created = false
		if pair, err = m.load(ctx); err != nil {
			return Key{}, err
		}
	}

	stored, err := m.store.Get(ctx, storage.KeyRelayer)
	if err != nil {
		return Key{}, fmt.Errorf("verify relayer key: %w", err)
	}
	if stored != pair.Seed() {
		return Key{}, apperrors.New(apperrors.CodeKeyPersistenceConflict, "persisted relayer key changed during creation")
	}

	key := Key{Pair: pair, Created: created}
	if !created {
		return key, nil
	}
	log := m.log.WithField("relayer", pair.Address())
	log.Info("created relayer key")
	if m.faucet != nil {
		if err := m.faucet.Fund(ctx, pair.Address()); err != nil {
			key.FundingErr = err
			log.WithError(err).Warn("fund relayer account")
		} else {
			log.Info("funded relayer account")
		}
	}
	return key, nil
}

// Current returns the persisted relayer key without creating one.
func (m *Manager) Current(ctx context.Context) (*keypair.Full, error) {
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) (*keypair.Full, error) {
	seed, err := m.store.Get(ctx, storage.KeyRelayer)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load relayer key: %w", err)
	}
	pair, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("parse persisted relayer key: %w", err)
	}
	return pair, nil
}

// Reset discards the persisted relayer key.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Remove(ctx, storage.KeyRelayer); err != nil {
		return fmt.Errorf("remove relayer key: %w", err)
	}
	m.group.Forget(storage.KeyRelayer)
	m.log.Info("relayer key reset")
	return nil
}
