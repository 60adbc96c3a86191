// Package invocation builds unsigned contract calls from the relayer account
// and simulates them to learn which authorization they need.
package invocation

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/platform/otel"
	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/louisbranch/soropass/internal/services/relayer/soroban"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/xdr"
	"go.opentelemetry.io/otel/attribute"
)

// Unsigned is a zero-fee envelope that has not been simulated yet.
type Unsigned struct {
	Envelope xdr.TransactionEnvelope
	Call     soroban.Invocation
	// Ledger is the latest ledger sequence observed before building. The
	// signature expiration is derived from it.
	Ledger uint32
}

// Simulated is an Unsigned envelope together with its successful simulation.
type Simulated struct {
	Unsigned
	Simulation ledger.Simulation
	// Auth is every authorization entry the simulation asked for, in order.
	Auth []xdr.SorobanAuthorizationEntry
	// EntryIndex points at the single address-credential entry in Auth.
	EntryIndex int
}

// Entry returns the address-credential entry the user has to sign.
func (s Simulated) Entry() xdr.SorobanAuthorizationEntry {
	return s.Auth[s.EntryIndex]
}

// Builder builds and simulates invocations against a ledger.
type Builder struct {
	client ledger.Client
	log    logrus.FieldLogger
}

// NewBuilder returns a Builder backed by client.
func NewBuilder(client ledger.Client, log logrus.FieldLogger) (*Builder, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	return &Builder{client: client, log: logging.OrDiscard(log).WithField("component", "invocation")}, nil
}

// Build reads the latest ledger and the relayer sequence, then wraps call in
// a zero-fee envelope with no time bounds.
func (b *Builder) Build(ctx context.Context, relayer string, call soroban.Invocation) (unsigned Unsigned, err error) {
	ctx, span := otel.StartSpan(ctx, "relayer.build", attribute.String("invocation.function", call.Function))
	defer func() { otel.EndSpan(span, err) }()

	latest, err := b.client.GetLatestLedger(ctx)
	if err != nil {
		return Unsigned{}, fmt.Errorf("get latest ledger: %w", err)
	}
	acct, err := b.client.GetAccount(ctx, relayer)
	if err != nil {
		return Unsigned{}, fmt.Errorf("load relayer account: %w", err)
	}
	env, err := soroban.BuildEnvelope(relayer, acct.Sequence, 0, call)
	if err != nil {
		return Unsigned{}, err
	}
	span.SetAttributes(attribute.Int64("ledger.sequence", int64(latest.Sequence)))
	return Unsigned{Envelope: env, Call: call, Ledger: latest.Sequence}, nil
}

// Simulate dry-runs unsigned. A simulation error is SimulationFailed and a
// restore preamble is RestoreRequired; both carry the ledger diagnostic.
func (b *Builder) Simulate(ctx context.Context, unsigned Unsigned) (simulated Simulated, err error) {
	ctx, span := otel.StartSpan(ctx, "relayer.simulate", attribute.String("invocation.function", unsigned.Call.Function))
	defer func() { otel.EndSpan(span, err) }()

	sim, err := b.simulate(ctx, unsigned)
	if err != nil {
		return Simulated{}, err
	}

	auth := sim.Results[0].Auth
	index, err := addressEntry(auth)
	if err != nil {
		return Simulated{}, err
	}
	b.log.WithFields(logrus.Fields{
		"function":     unsigned.Call.Function,
		"resource_fee": sim.MinResourceFee,
		"auth_entries": len(auth),
	}).Debug("invocation simulated")
	return Simulated{Unsigned: unsigned, Simulation: sim, Auth: auth, EntryIndex: index}, nil
}

// Read dry-runs a read-only call and returns its result. Any authorization
// the simulation reports is ignored since nothing is submitted.
func (b *Builder) Read(ctx context.Context, unsigned Unsigned) (result xdr.ScVal, err error) {
	ctx, span := otel.StartSpan(ctx, "relayer.read", attribute.String("invocation.function", unsigned.Call.Function))
	defer func() { otel.EndSpan(span, err) }()

	sim, err := b.simulate(ctx, unsigned)
	if err != nil {
		return xdr.ScVal{}, err
	}
	b.log.WithField("function", unsigned.Call.Function).Debug("invocation read")
	return sim.Results[0].Return, nil
}

func (b *Builder) simulate(ctx context.Context, unsigned Unsigned) (ledger.Simulation, error) {
	sim, err := b.client.SimulateTransaction(ctx, unsigned.Envelope)
	if err != nil {
		return ledger.Simulation{}, apperrors.WrapDiagnostic(apperrors.CodeSimulationFailed, "simulate invocation", ledger.Diagnostic(err), err)
	}
	if sim.Failed() {
		return ledger.Simulation{}, apperrors.WrapDiagnostic(apperrors.CodeSimulationFailed, "simulation failed", sim.Error, nil)
	}
	if sim.NeedsRestore() {
		return ledger.Simulation{}, apperrors.WrapDiagnostic(apperrors.CodeRestoreRequired, "contract state must be restored", sim.RestorePreamble.TransactionData, nil)
	}
	if len(sim.Results) == 0 {
		return ledger.Simulation{}, apperrors.New(apperrors.CodeSimulationFailed, "simulation returned no result")
	}
	return sim, nil
}

// BuildAndSimulate runs Build then Simulate.
func (b *Builder) BuildAndSimulate(ctx context.Context, relayer string, call soroban.Invocation) (Simulated, error) {
	unsigned, err := b.Build(ctx, relayer, call)
	if err != nil {
		return Simulated{}, err
	}
	return b.Simulate(ctx, unsigned)
}

// addressEntry finds the one entry that needs a signature. Source-account
// entries are covered by the relayer's envelope signature.
func addressEntry(auth []xdr.SorobanAuthorizationEntry) (int, error) {
	index := -1
	for i, entry := range auth {
		if entry.Credentials.Type != xdr.SorobanCredentialsTypeSorobanCredentialsAddress {
			continue
		}
		if index >= 0 {
			return 0, apperrors.New(apperrors.CodeSimulationFailed, "invocation requires more than one address authorization")
		}
		index = i
	}
	if index < 0 {
		return 0, apperrors.New(apperrors.CodeSimulationFailed, "invocation requires no address authorization")
	}
	return index, nil
}
