// Package pipeline runs passkey registration and passkey-authorized
// invocations end to end.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/platform/id"
	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/platform/otel"
	"github.com/louisbranch/soropass/internal/services/relayer/account"
	"github.com/louisbranch/soropass/internal/services/relayer/authhash"
	"github.com/louisbranch/soropass/internal/services/relayer/bundler"
	"github.com/louisbranch/soropass/internal/services/relayer/credential"
	"github.com/louisbranch/soropass/internal/services/relayer/invocation"
	"github.com/louisbranch/soropass/internal/services/relayer/signer"
	"github.com/louisbranch/soropass/internal/services/relayer/soroban"
	"github.com/louisbranch/soropass/internal/services/relayer/storage"
	"github.com/louisbranch/soropass/internal/services/relayer/submit"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/xdr"
	"go.opentelemetry.io/otel/attribute"
)

// Deps are the collaborators a Service drives.
type Deps struct {
	Store     storage.Store
	Keys      *bundler.Manager
	Deployer  *account.Deployer
	Builder   *invocation.Builder
	Signer    *signer.Signer
	Submitter *submit.Submitter
}

// Config configures a Service.
type Config struct {
	NetworkPassphrase string
	// DefaultContract is invoked when a request names no contract.
	DefaultContract string
}

// Service owns the relayer pipeline for one device owner.
type Service struct {
	deps Deps
	cfg  Config
	log  logrus.FieldLogger
}

// New validates deps and returns a Service.
func New(deps Deps, cfg Config, log logrus.FieldLogger) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Keys == nil:
		return nil, fmt.Errorf("relayer key manager is required")
	case deps.Deployer == nil:
		return nil, fmt.Errorf("account deployer is required")
	case deps.Builder == nil:
		return nil, fmt.Errorf("invocation builder is required")
	case deps.Signer == nil:
		return nil, fmt.Errorf("signer is required")
	case deps.Submitter == nil:
		return nil, fmt.Errorf("submitter is required")
	}
	if strings.TrimSpace(cfg.NetworkPassphrase) == "" {
		return nil, fmt.Errorf("network passphrase is required")
	}
	return &Service{deps: deps, cfg: cfg, log: logging.OrDiscard(log).WithField("component", "pipeline")}, nil
}

// Registration describes a registered passkey and its smart account.
type Registration struct {
	CredentialID string
	Account      string
	Salt         string
	PublicKey    string
	Relayer      string
	// Deployed is set when this call wrote the account to the ledger.
	Deployed bool
	TxHash   string
	// FundingErr is the non-fatal faucet failure for a freshly created relayer.
	FundingErr error
}

// Register derives the account identity of cred, deploys its smart account
// and then records the credential id and account address.
func (s *Service) Register(ctx context.Context, cred credential.Credential) (Registration, error) {
	if len(cred.ID) == 0 {
		return Registration{}, apperrors.New(apperrors.CodeMalformedCredential, "credential id is empty")
	}
	identity, err := credential.Derive(cred.PublicKey)
	if err != nil {
		return Registration{}, err
	}
	key, err := s.deps.Keys.GetOrCreate(ctx)
	if err != nil {
		return Registration{}, err
	}
	deployment, err := s.deps.Deployer.Deploy(ctx, key.Pair, identity.Salt, identity.PublicKey)
	if err != nil {
		return Registration{}, err
	}

	credentialID := cred.EncodedID()
	if err := s.deps.Store.SetMany(ctx,
		storage.Entry{Key: storage.KeyCredentialID, Value: credentialID},
		storage.Entry{Key: storage.KeyDeployedAccount, Value: deployment.Address},
	); err != nil {
		return Registration{}, fmt.Errorf("persist registration: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"credential_id": credentialID,
		"account":       deployment.Address,
		"deployed":      deployment.Submitted,
	}).Info("passkey registered")
	return Registration{
		CredentialID: credentialID,
		Account:      deployment.Address,
		Salt:         hex.EncodeToString(identity.Salt[:]),
		PublicKey:    hex.EncodeToString(identity.PublicKey[:]),
		Relayer:      key.Address(),
		Deployed:     deployment.Submitted,
		TxHash:       deployment.TxHash,
		FundingErr:   key.FundingErr,
	}, nil
}

// SignIn records credentialID as the passkey to use for assertions.
func (s *Service) SignIn(ctx context.Context, credentialID []byte) error {
	if len(credentialID) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "credential id is empty")
	}
	return s.deps.Store.Set(ctx, storage.KeyCredentialID, base64.RawURLEncoding.EncodeToString(credentialID))
}

// SignOut forgets the credential id and deployed account.
func (s *Service) SignOut(ctx context.Context) error {
	for _, key := range []string{storage.KeyCredentialID, storage.KeyDeployedAccount} {
		if err := s.deps.Store.Remove(ctx, key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

// ResetRelayer discards the relayer key. The next call creates a new one.
func (s *Service) ResetRelayer(ctx context.Context) error {
	return s.deps.Keys.Reset(ctx)
}

// Reset signs out and discards the relayer key.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.SignOut(ctx); err != nil {
		return err
	}
	return s.ResetRelayer(ctx)
}

// Session is the persisted state of the device owner.
type Session struct {
	Relayer      string
	CredentialID string
	Account      string
}

// Session reports the persisted relayer, credential id and account. Missing
// values are empty.
func (s *Service) Session(ctx context.Context) (Session, error) {
	var session Session
	pair, err := s.deps.Keys.Current(ctx)
	switch {
	case err == nil:
		session.Relayer = pair.Address()
	case !errors.Is(err, storage.ErrNotFound):
		return Session{}, err
	}
	if session.CredentialID, err = s.optional(ctx, storage.KeyCredentialID); err != nil {
		return Session{}, err
	}
	if session.Account, err = s.optional(ctx, storage.KeyDeployedAccount); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (s *Service) optional(ctx context.Context, key string) (string, error) {
	value, err := s.deps.Store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return value, err
}

// InvokeRequest names one contract call.
type InvokeRequest struct {
	// Contract is a C... address; empty uses the configured default.
	Contract string
	Function string
	Args     []xdr.ScVal
}

// Invoke runs one authorization attempt for req. The returned attempt is
// terminal; on failure its error is also returned. A failed attempt is never
// resumed: calling Invoke again starts over with a fresh nonce and expiration.
func (s *Service) Invoke(ctx context.Context, req InvokeRequest) (*Attempt, error) {
	contract, call, err := s.call(req)
	if err != nil {
		return nil, err
	}
	attemptID, err := id.NewID()
	if err != nil {
		return nil, err
	}

	attempt := newAttempt(attemptID, contract, req.Function)
	ctx = withAttempt(ctx, attempt)
	err = s.run(ctx, attempt, call)
	attempt.finish(err)

	log := s.log.WithFields(logrus.Fields{"attempt_id": attempt.ID, "stage": attempt.State()})
	if err != nil {
		log.WithError(err).WithField("code", apperrors.CodeOf(err)).Warn("invocation ended")
		return attempt, err
	}
	log.WithField("tx_hash", attempt.TxHash()).Info("invocation confirmed")
	return attempt, nil
}

// Query simulates a read-only call from the relayer account and returns its
// result. Nothing is signed or submitted.
func (s *Service) Query(ctx context.Context, req InvokeRequest) (xdr.ScVal, error) {
	contract, call, err := s.call(req)
	if err != nil {
		return xdr.ScVal{}, err
	}
	key, err := s.deps.Keys.GetOrCreate(ctx)
	if err != nil {
		return xdr.ScVal{}, err
	}
	unsigned, err := s.deps.Builder.Build(ctx, key.Address(), call)
	if err != nil {
		return xdr.ScVal{}, err
	}
	result, err := s.deps.Builder.Read(ctx, unsigned)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"contract": contract,
			"function": call.Function,
			"code":     apperrors.CodeOf(err),
		}).Debug("query failed")
		return xdr.ScVal{}, err
	}
	return result, nil
}

// call resolves req into the contract address and invocation it names.
func (s *Service) call(req InvokeRequest) (string, soroban.Invocation, error) {
	contract := strings.TrimSpace(req.Contract)
	if contract == "" {
		contract = s.cfg.DefaultContract
	}
	if strings.TrimSpace(req.Function) == "" {
		return "", soroban.Invocation{}, apperrors.New(apperrors.CodeInvalidArgument, "function is required")
	}
	target, err := soroban.ParseAddress(contract)
	if err != nil {
		return "", soroban.Invocation{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "contract address", err)
	}
	return contract, soroban.Invocation{Contract: target, Function: req.Function, Args: req.Args}, nil
}

func (s *Service) run(ctx context.Context, attempt *Attempt, call soroban.Invocation) error {
	key, err := s.deps.Keys.GetOrCreate(ctx)
	if err != nil {
		return err
	}
	credentialID, err := s.credentialID(ctx)
	if err != nil {
		return err
	}

	unsigned, err := s.deps.Builder.Build(ctx, key.Address(), call)
	if err != nil {
		return err
	}
	if err := attempt.advance(StateBuilt); err != nil {
		return err
	}

	simulated, err := s.deps.Builder.Simulate(ctx, unsigned)
	if err != nil {
		return err
	}
	if err := attempt.advance(StateSimulated); err != nil {
		return err
	}

	expiration := authhash.ExpirationLedger(unsigned.Ledger)
	hash, err := s.hash(ctx, attempt, simulated.Entry(), expiration)
	if err != nil {
		return err
	}
	if err := attempt.advance(StateHashComputed); err != nil {
		return err
	}

	assertion, err := s.deps.Signer.Sign(ctx, hash, credentialID)
	if err != nil {
		return err
	}
	if err := attempt.advance(StateSigned); err != nil {
		return err
	}

	result, err := s.deps.Submitter.Submit(ctx, key.Pair, submit.Request{
		Simulated:        simulated,
		ExpirationLedger: expiration,
		Assertion:        assertion,
		Sent: func(hash string) {
			if err := attempt.submitted(hash); err != nil {
				s.log.WithError(err).Warn("record submission")
			}
		},
	})
	if err != nil {
		return err
	}
	attempt.mu.Lock()
	attempt.txHash = result.Hash
	attempt.mu.Unlock()
	return nil
}

func (s *Service) hash(ctx context.Context, attempt *Attempt, entry xdr.SorobanAuthorizationEntry, expiration uint32) (hash [32]byte, err error) {
	_, span := otel.StartSpan(ctx, "relayer.hash",
		attribute.String("attempt.id", attempt.ID),
		attribute.Int64("auth.expiration_ledger", int64(expiration)),
	)
	defer func() { otel.EndSpan(span, err) }()

	hash, err = authhash.ForEntry(entry, s.cfg.NetworkPassphrase, expiration)
	if err != nil {
		return hash, err
	}
	attempt.mu.Lock()
	attempt.expirationLedger = expiration
	attempt.authHash = hex.EncodeToString(hash[:])
	attempt.mu.Unlock()
	return hash, nil
}

func (s *Service) credentialID(ctx context.Context) ([]byte, error) {
	encoded, err := s.optional(ctx, storage.KeyCredentialID)
	if err != nil || encoded == "" {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode stored credential id: %w", err)
	}
	return raw, nil
}
