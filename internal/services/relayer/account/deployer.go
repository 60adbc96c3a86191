// Package account deploys the passkey smart account through its factory
// contract.
package account

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/platform/otel"
	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/louisbranch/soropass/internal/services/relayer/soroban"
	"github.com/louisbranch/soropass/internal/services/relayer/submit"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// DeployFunction is the factory entrypoint: deploy(salt: Bytes, public_key: Bytes) -> Address.
const DeployFunction = "deploy"

// Config configures a Deployer.
type Config struct {
	NetworkPassphrase string
	FactoryContractID string
	InclusionFee      uint32
	Poller            ledger.Poller
}

// Deployment is the result of Deploy.
type Deployment struct {
	Address string
	// Submitted is set when this call wrote the deployment to the ledger.
	Submitted bool
	TxHash    string
}

// Deployer instantiates smart accounts at salt-determined addresses.
type Deployer struct {
	client  ledger.Client
	cfg     Config
	factory xdr.ScAddress
	log     logrus.FieldLogger
	group   singleflight.Group
}

// NewDeployer builds a Deployer for the configured factory.
func NewDeployer(client ledger.Client, cfg Config, log logrus.FieldLogger) (*Deployer, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if strings.TrimSpace(cfg.NetworkPassphrase) == "" {
		return nil, fmt.Errorf("network passphrase is required")
	}
	factory, err := soroban.ParseAddress(cfg.FactoryContractID)
	if err != nil {
		return nil, fmt.Errorf("factory contract: %w", err)
	}
	if factory.Type != xdr.ScAddressTypeScAddressTypeContract {
		return nil, fmt.Errorf("factory %q is not a contract address", cfg.FactoryContractID)
	}
	return &Deployer{
		client:  client,
		cfg:     cfg,
		factory: factory,
		log:     logging.OrDiscard(log).WithField("component", "account"),
	}, nil
}

// Address returns the contract address a deployment with salt produces.
func (d *Deployer) Address(salt [32]byte) (string, error) {
	id, err := soroban.ContractID(d.cfg.NetworkPassphrase, d.factory, salt)
	if err != nil {
		return "", err
	}
	return soroban.AddressString(soroban.ContractAddress(id))
}

// Deploy instantiates the smart account for (salt, publicKey) from the
// relayer account. An account that already exists is returned without a
// ledger write. Concurrent calls for the same salt share one deployment,
// which keeps running when a caller's ctx ends.
func (d *Deployer) Deploy(ctx context.Context, relayer *keypair.Full, salt [32]byte, publicKey [65]byte) (Deployment, error) {
	if relayer == nil {
		return Deployment{}, fmt.Errorf("relayer key is required")
	}
	shared := context.WithoutCancel(ctx)
	flight := d.group.DoChan(hex.EncodeToString(salt[:]), func() (any, error) {
		return d.deploy(shared, relayer, salt, publicKey)
	})
	select {
	case res := <-flight:
		if res.Err != nil {
			return Deployment{}, res.Err
		}
		return res.Val.(Deployment), nil
	case <-ctx.Done():
		return Deployment{}, ctx.Err()
	}
}

func (d *Deployer) deploy(ctx context.Context, relayer *keypair.Full, salt [32]byte, publicKey [65]byte) (result Deployment, err error) {
	ctx, span := otel.StartSpan(ctx, "relayer.deploy")
	defer func() { otel.EndSpan(span, err) }()

	id, err := soroban.ContractID(d.cfg.NetworkPassphrase, d.factory, salt)
	if err != nil {
		return Deployment{}, err
	}
	contract := soroban.ContractAddress(id)
	address, err := soroban.AddressString(contract)
	if err != nil {
		return Deployment{}, err
	}
	span.SetAttributes(attribute.String("account.address", address))
	log := d.log.WithFields(logrus.Fields{"account": address, "relayer": relayer.Address()})

	exists, err := d.exists(ctx, contract)
	if err != nil {
		return Deployment{}, err
	}
	if exists {
		log.Debug("account already deployed")
		return Deployment{Address: address}, nil
	}

	acct, err := d.client.GetAccount(ctx, relayer.Address())
	if err != nil {
		return Deployment{}, fmt.Errorf("load relayer account: %w", err)
	}
	env, err := soroban.BuildEnvelope(relayer.Address(), acct.Sequence, 0, soroban.Invocation{
		Contract: d.factory,
		Function: DeployFunction,
		Args:     []xdr.ScVal{soroban.Bytes(salt[:]), soroban.Bytes(publicKey[:])},
	})
	if err != nil {
		return Deployment{}, err
	}

	sim, err := d.client.SimulateTransaction(ctx, env)
	if err != nil {
		return Deployment{}, fmt.Errorf("simulate deployment: %w", err)
	}
	if sim.Failed() || sim.NeedsRestore() {
		// A concurrent deployment from elsewhere makes the factory call fail.
		if exists, checkErr := d.exists(ctx, contract); checkErr == nil && exists {
			return Deployment{Address: address}, nil
		}
		diagnostic := sim.Error
		if diagnostic == "" {
			diagnostic = "restore required"
		}
		return Deployment{}, apperrors.WrapDiagnostic(apperrors.CodeDeploymentFailed, "simulate deployment", diagnostic, nil)
	}
	if err := checkReturnedAddress(sim, id); err != nil {
		return Deployment{}, err
	}
	auth, err := sourceAccountAuth(sim)
	if err != nil {
		return Deployment{}, err
	}
	if err := soroban.Finalize(&env, sim.TransactionData, auth, d.cfg.InclusionFee, sim.MinResourceFee); err != nil {
		return Deployment{}, err
	}

	sender := submit.Sender{Client: d.client, Poller: d.cfg.Poller, Passphrase: d.cfg.NetworkPassphrase}
	outcome, err := sender.SignAndSend(ctx, &env, relayer)
	if err != nil {
		return Deployment{}, apperrors.Wrap(apperrors.CodeDeploymentFailed, "submit deployment", err)
	}
	log = log.WithField("tx_hash", outcome.Hash)
	if !outcome.Accepted() {
		return Deployment{}, apperrors.WrapDiagnostic(
			apperrors.CodeDeploymentFailed,
			fmt.Sprintf("deployment rejected with status %s", outcome.Send.Status),
			outcome.Send.ErrorResultXDR,
			nil,
		)
	}
	switch outcome.Status.Status {
	case ledger.TxSuccess:
		log.Info("account deployed")
		return Deployment{Address: address, Submitted: true, TxHash: outcome.Hash}, nil
	case ledger.TxFailed:
		return Deployment{}, apperrors.WrapDiagnostic(apperrors.CodeDeploymentFailed, "deployment failed on ledger", outcome.Status.ResultXDR, nil)
	default:
		return Deployment{}, apperrors.New(apperrors.CodePollingTimedOut, "deployment not confirmed: "+outcome.Hash)
	}
}

func (d *Deployer) exists(ctx context.Context, contract xdr.ScAddress) (bool, error) {
	entries, err := d.client.GetLedgerEntries(ctx, soroban.ContractInstanceKey(contract))
	if err != nil {
		return false, fmt.Errorf("check account instance: %w", err)
	}
	return len(entries) > 0, nil
}

func checkReturnedAddress(sim ledger.Simulation, want xdr.Hash) error {
	if len(sim.Results) == 0 {
		return nil
	}
	ret := sim.Results[0].Return
	if ret.Type != xdr.ScValTypeScvAddress || ret.Address == nil {
		return nil
	}
	if ret.Address.ContractId == nil || *ret.Address.ContractId != want {
		got, _ := soroban.AddressString(*ret.Address)
		return apperrors.New(apperrors.CodeDeploymentFailed, "factory would deploy to unexpected address "+got)
	}
	return nil
}

func sourceAccountAuth(sim ledger.Simulation) ([]xdr.SorobanAuthorizationEntry, error) {
	if len(sim.Results) == 0 {
		return nil, nil
	}
	auth := sim.Results[0].Auth
	for _, entry := range auth {
		if entry.Credentials.Type != xdr.SorobanCredentialsTypeSorobanCredentialsSourceAccount {
			return nil, apperrors.New(apperrors.CodeDeploymentFailed, "deployment requires authorization from another address")
		}
	}
	return auth, nil
}
