// Package submit attaches the passkey signature to a simulated invocation,
// pays for it with the relayer account, and waits for the ledger verdict.
package submit

import (
	"context"
	"crypto/elliptic"
	"fmt"
	"math/big"
	"strings"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/platform/otel"
	"github.com/louisbranch/soropass/internal/services/relayer/invocation"
	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/louisbranch/soropass/internal/services/relayer/signer"
	"github.com/louisbranch/soropass/internal/services/relayer/soroban"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Signature field names of the smart account's __check_auth argument.
const (
	FieldAuthenticatorData = "authenticator_data"
	FieldClientDataJSON    = "client_data_json"
	FieldSignature         = "signature"
)

var (
	curveOrder = elliptic.P256().Params().N
	halfOrder  = new(big.Int).Rsh(curveOrder, 1)
)

// CompactSignature converts a DER ECDSA P-256 signature into the 64-byte
// r||s form with s in the lower half of the curve order.
func CompactSignature(der []byte) ([64]byte, error) {
	var (
		out   [64]byte
		inner cryptobyte.String
		r     = new(big.Int)
		s     = new(big.Int)
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return out, apperrors.New(apperrors.CodeAssertionFailed, "signature is not DER encoded ECDSA")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(curveOrder) >= 0 || s.Cmp(curveOrder) >= 0 {
		return out, apperrors.New(apperrors.CodeAssertionFailed, "signature scalar out of range")
	}
	if s.Cmp(halfOrder) > 0 {
		s.Sub(curveOrder, s)
	}
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}

// SignatureValue builds the smart-account signature argument from assertion.
func SignatureValue(assertion signer.Assertion) (xdr.ScVal, error) {
	compact, err := CompactSignature(assertion.Signature)
	if err != nil {
		return xdr.ScVal{}, err
	}
	return soroban.SymbolMap(map[string]xdr.ScVal{
		FieldAuthenticatorData: soroban.Bytes(assertion.AuthenticatorData),
		FieldClientDataJSON:    soroban.Bytes(assertion.ClientDataJSON),
		FieldSignature:         soroban.Bytes(compact[:]),
	}), nil
}

// Config configures a Submitter.
type Config struct {
	NetworkPassphrase string
	InclusionFee      uint32
	Poller            ledger.Poller
}

// Request is one signed authorization ready to be assembled.
type Request struct {
	Simulated        invocation.Simulated
	ExpirationLedger uint32
	Assertion        signer.Assertion
	// Sent is called with the transaction hash once the ledger has received
	// the envelope. Failures before that point never reached the ledger.
	Sent func(hash string)
}

// Result is a confirmed submission.
type Result struct {
	Hash      string
	Ledger    uint32
	Fee       uint32
	ResultXDR string
}

// Submitter assembles and submits passkey-authorized invocations.
type Submitter struct {
	client ledger.Client
	cfg    Config
	log    logrus.FieldLogger
}

// NewSubmitter returns a Submitter backed by client.
func NewSubmitter(client ledger.Client, cfg Config, log logrus.FieldLogger) (*Submitter, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if strings.TrimSpace(cfg.NetworkPassphrase) == "" {
		return nil, fmt.Errorf("network passphrase is required")
	}
	return &Submitter{client: client, cfg: cfg, log: logging.OrDiscard(log).WithField("component", "submit")}, nil
}

// Submit attaches the assertion to the simulated entry, prices the signed
// invocation, and submits it from relayer. Once the ledger passes
// ExpirationLedger the attempt fails with ExpiredAuthorization and cannot be
// retried.
func (s *Submitter) Submit(ctx context.Context, relayer *keypair.Full, req Request) (result Result, err error) {
	ctx, span := otel.StartSpan(ctx, "relayer.submit", attribute.Int64("auth.expiration_ledger", int64(req.ExpirationLedger)))
	defer func() { otel.EndSpan(span, err) }()

	if relayer == nil {
		return Result{}, fmt.Errorf("relayer key is required")
	}
	if len(req.Simulated.Auth) == 0 || req.Simulated.EntryIndex >= len(req.Simulated.Auth) {
		return Result{}, apperrors.New(apperrors.CodeInvalidArgument, "no authorization entry to sign")
	}
	if expired, latest := s.expired(ctx, req.ExpirationLedger); expired {
		return Result{}, expiredError(latest, req.ExpirationLedger)
	}

	sig, err := SignatureValue(req.Assertion)
	if err != nil {
		return Result{}, err
	}
	auth, err := signedAuth(req.Simulated.Auth, req.Simulated.EntryIndex, sig, req.ExpirationLedger)
	if err != nil {
		return Result{}, err
	}
	env, err := soroban.CloneEnvelope(req.Simulated.Envelope)
	if err != nil {
		return Result{}, err
	}
	op, err := soroban.InvokeOp(&env)
	if err != nil {
		return Result{}, err
	}
	op.Auth = auth

	sim, err := s.client.SimulateTransaction(ctx, env)
	if err != nil {
		return Result{}, apperrors.WrapDiagnostic(apperrors.CodeSimulationFailed, "simulate signed invocation", ledger.Diagnostic(err), err)
	}
	if sim.NeedsRestore() {
		return Result{}, apperrors.WrapDiagnostic(apperrors.CodeRestoreRequired, "contract state must be restored", sim.RestorePreamble.TransactionData, nil)
	}
	if sim.Failed() {
		return Result{}, s.rejected(ctx, req.ExpirationLedger, "signed invocation failed simulation", sim.Error)
	}
	if err := soroban.Finalize(&env, sim.TransactionData, auth, s.cfg.InclusionFee, sim.MinResourceFee); err != nil {
		return Result{}, err
	}
	fee := uint32(env.V1.Tx.Fee)

	sender := Sender{Client: s.client, Poller: s.cfg.Poller, Passphrase: s.cfg.NetworkPassphrase, Sent: req.Sent}
	outcome, err := sender.SignAndSend(ctx, &env, relayer)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("tx.hash", outcome.Hash))
	log := s.log.WithFields(logrus.Fields{"tx_hash": outcome.Hash, "fee": fee})

	if !outcome.Accepted() {
		diagnostic := outcome.Send.ErrorResultXDR
		if diagnostic == "" {
			diagnostic = string(outcome.Send.Status)
		}
		log.WithField("status", outcome.Send.Status).Warn("submission refused")
		return Result{}, s.rejected(ctx, req.ExpirationLedger, "ledger refused transaction "+outcome.Hash, diagnostic)
	}
	switch outcome.Status.Status {
	case ledger.TxSuccess:
		log.WithField("ledger", outcome.Status.Ledger).Info("invocation confirmed")
		return Result{Hash: outcome.Hash, Ledger: outcome.Status.Ledger, Fee: fee, ResultXDR: outcome.Status.ResultXDR}, nil
	case ledger.TxFailed:
		log.Warn("invocation failed on ledger")
		return Result{}, s.rejected(ctx, req.ExpirationLedger, "transaction "+outcome.Hash+" failed", outcome.Status.ResultXDR)
	default:
		return Result{}, apperrors.WithMetadata(apperrors.CodePollingTimedOut, "transaction "+outcome.Hash+" not found after polling", map[string]string{"tx_hash": outcome.Hash})
	}
}

// rejected reports a ledger rejection, preferring ExpiredAuthorization when
// the ledger has moved past expiration.
func (s *Submitter) rejected(ctx context.Context, expiration uint32, message, diagnostic string) error {
	if expired, latest := s.expired(ctx, expiration); expired {
		err := expiredError(latest, expiration)
		if diagnostic != "" {
			err.Metadata = map[string]string{apperrors.MetadataDiagnostic: diagnostic}
		}
		return err
	}
	return apperrors.WrapDiagnostic(apperrors.CodeSubmissionRejected, message, diagnostic, nil)
}

func (s *Submitter) expired(ctx context.Context, expiration uint32) (bool, uint32) {
	latest, err := s.client.GetLatestLedger(ctx)
	if err != nil {
		s.log.WithError(err).Warn("latest ledger unavailable for expiration check")
		return false, 0
	}
	return latest.Sequence > expiration, latest.Sequence
}

func expiredError(latest, expiration uint32) *apperrors.Error {
	return apperrors.New(apperrors.CodeExpiredAuthorization,
		fmt.Sprintf("authorization expired at ledger %d, ledger is at %d", expiration, latest))
}

// signedAuth copies auth and fills in the signature and expiration of the
// entry at index.
func signedAuth(auth []xdr.SorobanAuthorizationEntry, index int, sig xdr.ScVal, expiration uint32) ([]xdr.SorobanAuthorizationEntry, error) {
	out := make([]xdr.SorobanAuthorizationEntry, len(auth))
	for i, entry := range auth {
		raw, err := entry.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode authorization entry: %w", err)
		}
		if err := out[i].UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("decode authorization entry: %w", err)
		}
	}
	creds := out[index].Credentials.Address
	if creds == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "authorization entry has no address credentials")
	}
	creds.SignatureExpirationLedger = xdr.Uint32(expiration)
	creds.Signature = sig
	return out, nil
}
