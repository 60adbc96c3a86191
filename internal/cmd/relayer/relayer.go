// Package relayer parses relayer command flags and composes the pipeline.
package relayer

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/soropass/internal/platform/cmd"
	"github.com/louisbranch/soropass/internal/platform/config"
	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/services/relayer/account"
	"github.com/louisbranch/soropass/internal/services/relayer/app"
	"github.com/louisbranch/soropass/internal/services/relayer/bundler"
	"github.com/louisbranch/soropass/internal/services/relayer/credential"
	"github.com/louisbranch/soropass/internal/services/relayer/invocation"
	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/louisbranch/soropass/internal/services/relayer/pipeline"
	"github.com/louisbranch/soropass/internal/services/relayer/signer"
	"github.com/louisbranch/soropass/internal/services/relayer/storage/sqlite"
	"github.com/louisbranch/soropass/internal/services/relayer/submit"
	"github.com/sirupsen/logrus"
)

// Config holds relayer command configuration.
type Config struct {
	HTTPAddr          string        `env:"SOROPASS_HTTP_ADDR"            envDefault:"localhost:8095"`
	DBPath            string        `env:"SOROPASS_DB_PATH"              envDefault:"data/relayer.db"`
	RPCURL            string        `env:"SOROPASS_RPC_URL"`
	NetworkPassphrase string        `env:"SOROPASS_NETWORK_PASSPHRASE"   envDefault:"Test SDF Network ; September 2015"`
	ContractID        string        `env:"SOROPASS_CONTRACT_ID"`
	FactoryContractID string        `env:"SOROPASS_FACTORY_CONTRACT_ID"`
	FriendbotURL      string        `env:"SOROPASS_FRIENDBOT_URL"        envDefault:"https://friendbot.stellar.org"`
	InclusionFee      uint          `env:"SOROPASS_INCLUSION_FEE"        envDefault:"100"`
	PollAttempts      int           `env:"SOROPASS_POLL_ATTEMPTS"        envDefault:"20"`
	PollInterval      time.Duration `env:"SOROPASS_POLL_INTERVAL"        envDefault:"1s"`
	RPID              string        `env:"SOROPASS_WEBAUTHN_RP_ID"       envDefault:"localhost"`
	RPName            string        `env:"SOROPASS_WEBAUTHN_RP_NAME"     envDefault:"SoroPass"`
	RPOrigins         []string      `env:"SOROPASS_WEBAUTHN_RP_ORIGINS"  envDefault:"http://localhost:8095" envSeparator:","`
	Logging           logging.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	origins := strings.Join(cfg.RPOrigins, ",")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relayer HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "relayer SQLite store path")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "ledger JSON-RPC endpoint")
	fs.StringVar(&cfg.NetworkPassphrase, "network-passphrase", cfg.NetworkPassphrase, "ledger network passphrase")
	fs.StringVar(&cfg.ContractID, "contract-id", cfg.ContractID, "default contract for invocations")
	fs.StringVar(&cfg.FactoryContractID, "factory-contract-id", cfg.FactoryContractID, "smart account factory contract")
	fs.StringVar(&cfg.FriendbotURL, "friendbot-url", cfg.FriendbotURL, "faucet URL; empty disables funding")
	fs.UintVar(&cfg.InclusionFee, "inclusion-fee", cfg.InclusionFee, "inclusion fee in stroops")
	fs.IntVar(&cfg.PollAttempts, "poll-attempts", cfg.PollAttempts, "transaction status polls before giving up")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "spacing between transaction status polls")
	fs.StringVar(&cfg.RPID, "rp-id", cfg.RPID, "WebAuthn relying party id")
	fs.StringVar(&cfg.RPName, "rp-name", cfg.RPName, "WebAuthn relying party name")
	fs.StringVar(&origins, "rp-origins", origins, "comma separated WebAuthn origins")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level")
	fs.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "log format (text or json)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.RPOrigins = splitList(origins)

	if err := config.RequireValues(map[string]string{
		"SOROPASS_RPC_URL":             cfg.RPCURL,
		"SOROPASS_FACTORY_CONTRACT_ID": cfg.FactoryContractID,
		"SOROPASS_NETWORK_PASSPHRASE":  cfg.NetworkPassphrase,
	}); err != nil {
		return Config{}, err
	}
	if cfg.InclusionFee > uint(^uint32(0)) {
		return Config{}, fmt.Errorf("inclusion fee %d out of range", cfg.InclusionFee)
	}
	return cfg, nil
}

// Run builds the relayer pipeline and serves its HTTP API.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelayer, func(ctx context.Context) error {
		log, err := logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		server, closeStore, err := build(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				log.WithError(err).Warn("close store")
			}
		}()
		defer server.Close()

		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve relayer: %w", err)
		}
		return nil
	})
}

// build wires the store, ledger clients and pipeline into a server. The
// returned func closes the store.
func build(cfg Config, log logrus.FieldLogger) (*app.Server, func() error, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open relayer store: %w", err)
	}
	server, err := compose(cfg, store, log)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return server, store.Close, nil
}

func compose(cfg Config, store *sqlite.Store, log logrus.FieldLogger) (*app.Server, error) {
	client, err := ledger.NewRPC(cfg.RPCURL, ledger.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("init ledger rpc: %w", err)
	}
	var faucet ledger.Faucet
	if strings.TrimSpace(cfg.FriendbotURL) != "" {
		friendbot, err := ledger.NewFriendbot(cfg.FriendbotURL)
		if err != nil {
			return nil, fmt.Errorf("init friendbot: %w", err)
		}
		faucet = friendbot
	}
	poller := ledger.Poller{Attempts: cfg.PollAttempts, Interval: cfg.PollInterval}

	keys, err := bundler.NewManager(store, faucet, log)
	if err != nil {
		return nil, fmt.Errorf("init relayer keys: %w", err)
	}
	deployer, err := account.NewDeployer(client, account.Config{
		NetworkPassphrase: cfg.NetworkPassphrase,
		FactoryContractID: cfg.FactoryContractID,
		InclusionFee:      uint32(cfg.InclusionFee),
		Poller:            poller,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init deployer: %w", err)
	}
	builder, err := invocation.NewBuilder(client, log)
	if err != nil {
		return nil, fmt.Errorf("init builder: %w", err)
	}
	bridge := app.NewBridge()
	sign, err := signer.New(bridge, signer.Config{RPID: cfg.RPID, Origins: cfg.RPOrigins}, log)
	if err != nil {
		return nil, fmt.Errorf("init signer: %w", err)
	}
	submitter, err := submit.NewSubmitter(client, submit.Config{
		NetworkPassphrase: cfg.NetworkPassphrase,
		InclusionFee:      uint32(cfg.InclusionFee),
		Poller:            poller,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init submitter: %w", err)
	}
	service, err := pipeline.New(pipeline.Deps{
		Store:     store,
		Keys:      keys,
		Deployer:  deployer,
		Builder:   builder,
		Signer:    sign,
		Submitter: submitter,
	}, pipeline.Config{NetworkPassphrase: cfg.NetworkPassphrase, DefaultContract: cfg.ContractID}, log)
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	server, err := app.NewServer(app.Config{
		HTTPAddr:     cfg.HTTPAddr,
		RelyingParty: credential.RelyingParty{ID: cfg.RPID, Name: cfg.RPName},
	}, service, bridge, log)
	if err != nil {
		return nil, fmt.Errorf("init server: %w", err)
	}
	return server, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
