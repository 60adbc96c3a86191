package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/louisbranch/soropass/internal/services/relayer/soroban"
	"github.com/louisbranch/soropass/internal/testkit/ledgerfake"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

func fill(b byte) (h [32]byte) {
	for i := range h {
		h[i] = b
	}
	return h
}

type fixture struct {
	fake     *ledgerfake.Ledger
	deployer *Deployer
	relayer  *keypair.Full
	salt     [32]byte
	pubkey   [65]byte
	address  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	factory, err := soroban.AddressString(soroban.ContractAddress(fill(3)))
	if err != nil {
		t.Fatalf("factory address: %v", err)
	}
	fake := ledgerfake.New(1000)
	relayer := keypair.MustRandom()
	fake.Accounts[relayer.Address()] = 10

	deployer, err := NewDeployer(fake, Config{
		NetworkPassphrase: network.TestNetworkPassphrase,
		FactoryContractID: factory,
		InclusionFee:      100,
		Poller:            ledger.Poller{Attempts: 3, Interval: time.Millisecond},
	}, nil)
	if err != nil {
		t.Fatalf("new deployer: %v", err)
	}
	f := &fixture{fake: fake, deployer: deployer, relayer: relayer, salt: fill(4)}
	f.pubkey[0] = 0x04
	f.address, err = deployer.Address(f.salt)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}

	contractID, err := soroban.ContractID(network.TestNetworkPassphrase, soroban.ContractAddress(fill(3)), f.salt)
	if err != nil {
		t.Fatalf("contract id: %v", err)
	}
	fake.SendFunc = func(xdr.TransactionEnvelope) (ledger.SendResult, error) {
		if err := fake.PutContractInstance(soroban.ContractAddress(contractID)); err != nil {
			t.Errorf("put instance: %v", err)
		}
		return ledger.SendResult{Status: ledger.SendPending}, nil
	}
	return f
}

func TestNewDeployerValidatesConfig(t *testing.T) {
	fake := ledgerfake.New(1)
	if _, err := NewDeployer(nil, Config{}, nil); err == nil {
		t.Fatal("expected client error")
	}
	if _, err := NewDeployer(fake, Config{FactoryContractID: "C"}, nil); err == nil {
		t.Fatal("expected passphrase error")
	}
	account := keypair.MustRandom().Address()
	if _, err := NewDeployer(fake, Config{NetworkPassphrase: network.TestNetworkPassphrase, FactoryContractID: account}, nil); err == nil {
		t.Fatal("expected non-contract factory error")
	}
}

func TestDeployIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.deployer.Deploy(ctx, f.relayer, f.salt, f.pubkey)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !first.Submitted || first.Address != f.address {
		t.Fatalf("first deployment = %+v, want submitted to %s", first, f.address)
	}

	second, err := f.deployer.Deploy(ctx, f.relayer, f.salt, f.pubkey)
	if err != nil {
		t.Fatalf("deploy again: %v", err)
	}
	if second.Submitted || second.Address != f.address {
		t.Fatalf("second deployment = %+v, want existing %s", second, f.address)
	}
	if got := f.fake.SentCount(); got != 1 {
		t.Fatalf("ledger writes = %d, want 1", got)
	}
}

func TestDeployBuildsFactoryCall(t *testing.T) {
	f := newFixture(t)
	if _, err := f.deployer.Deploy(context.Background(), f.relayer, f.salt, f.pubkey); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	sent := f.fake.Sent[0]
	if sent.V1.Tx.SeqNum != 11 {
		t.Fatalf("seq = %d, want 11", sent.V1.Tx.SeqNum)
	}
	if len(sent.V1.Signatures) != 1 {
		t.Fatalf("signatures = %d, want 1", len(sent.V1.Signatures))
	}
	op, err := soroban.InvokeOp(&sent)
	if err != nil {
		t.Fatalf("invoke op: %v", err)
	}
	call := op.HostFunction.InvokeContract
	if call.FunctionName != DeployFunction || len(call.Args) != 2 {
		t.Fatalf("call = %s/%d args, want deploy/2", call.FunctionName, len(call.Args))
	}
	if got := []byte(*call.Args[0].Bytes); string(got) != string(f.salt[:]) {
		t.Fatalf("salt arg = %x, want %x", got, f.salt)
	}
}

func TestDeploySimulationErrorIsDeploymentFailed(t *testing.T) {
	f := newFixture(t)
	f.fake.SimulateFunc = func(xdr.TransactionEnvelope) (ledger.Simulation, error) {
		return ledger.Simulation{Error: "HostError: Error(Contract, #3)"}, nil
	}
	_, err := f.deployer.Deploy(context.Background(), f.relayer, f.salt, f.pubkey)
	if code := apperrors.CodeOf(err); code != apperrors.CodeDeploymentFailed {
		t.Fatalf("code = %s, want %s", code, apperrors.CodeDeploymentFailed)
	}
	if got := apperrors.Diagnostic(err); got != "HostError: Error(Contract, #3)" {
		t.Fatalf("diagnostic = %q", got)
	}
	if f.fake.SentCount() != 0 {
		t.Fatal("expected no submission after failed simulation")
	}
}

func TestDeployRejectsUnexpectedAddress(t *testing.T) {
	f := newFixture(t)
	other := soroban.ContractAddress(fill(9))
	f.fake.SimulateFunc = func(xdr.TransactionEnvelope) (ledger.Simulation, error) {
		return ledger.Simulation{Results: []ledger.SimulationResult{{Return: soroban.Address(other)}}}, nil
	}
	_, err := f.deployer.Deploy(context.Background(), f.relayer, f.salt, f.pubkey)
	if code := apperrors.CodeOf(err); code != apperrors.CodeDeploymentFailed {
		t.Fatalf("code = %s, want %s", code, apperrors.CodeDeploymentFailed)
	}
}

func TestDeploySendRejectionKeepsDiagnostic(t *testing.T) {
	f := newFixture(t)
	f.fake.SendFunc = func(xdr.TransactionEnvelope) (ledger.SendResult, error) {
		return ledger.SendResult{Status: ledger.SendError, ErrorResultXDR: "AAAAAAAAAGT////7AAAAAA=="}, nil
	}
	_, err := f.deployer.Deploy(context.Background(), f.relayer, f.salt, f.pubkey)
	if code := apperrors.CodeOf(err); code != apperrors.CodeDeploymentFailed {
		t.Fatalf("code = %s, want %s", code, apperrors.CodeDeploymentFailed)
	}
	if got := apperrors.Diagnostic(err); got != "AAAAAAAAAGT////7AAAAAA==" {
		t.Fatalf("diagnostic = %q", got)
	}
}

func TestDeployLedgerFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.StatusFunc = func(hash string, _ int) (ledger.TransactionStatus, error) {
		return ledger.TransactionStatus{Status: ledger.TxFailed, Hash: hash, ResultXDR: "result"}, nil
	}
	_, err := f.deployer.Deploy(context.Background(), f.relayer, f.salt, f.pubkey)
	if code := apperrors.CodeOf(err); code != apperrors.CodeDeploymentFailed {
		t.Fatalf("code = %s, want %s", code, apperrors.CodeDeploymentFailed)
	}
}

func TestDeployConcurrentCallsShareOneSubmission(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	base := f.fake.SendFunc
	f.fake.SendFunc = func(env xdr.TransactionEnvelope) (ledger.SendResult, error) {
		<-release
		return base(env)
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Deployment, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.deployer.Deploy(context.Background(), f.relayer, f.salt, f.pubkey)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Address != f.address {
			t.Fatalf("caller %d address = %s, want %s", i, results[i].Address, f.address)
		}
	}
	if got := f.fake.SentCount(); got != 1 {
		t.Fatalf("ledger writes = %d, want 1", got)
	}
}

func TestDeployOutlivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	sending := make(chan struct{})
	release := make(chan struct{})
	base := f.fake.SendFunc
	f.fake.SendFunc = func(env xdr.TransactionEnvelope) (ledger.SendResult, error) {
		close(sending)
		<-release
		return base(env)
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.deployer.Deploy(ctx, f.relayer, f.salt, f.pubkey)
		first <- err
	}()
	<-sending

	type outcome struct {
		deployment Deployment
		err        error
	}
	second := make(chan outcome, 1)
	go func() {
		deployment, err := f.deployer.Deploy(context.Background(), f.relayer, f.salt, f.pubkey)
		second <- outcome{deployment, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller err = %v, want %v", err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the deployment")
	}

	close(release)
	got := <-second
	if got.err != nil {
		t.Fatalf("second caller: %v", got.err)
	}
	if got.deployment.Address != f.address || !got.deployment.Submitted {
		t.Fatalf("deployment = %+v, want shared submission of %s", got.deployment, f.address)
	}
	if sent := f.fake.SentCount(); sent != 1 {
		t.Fatalf("ledger writes = %d, want 1", sent)
	}
}
