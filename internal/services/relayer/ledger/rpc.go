package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/platform/timeouts"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/xdr"
)

// RPCError is a JSON-RPC error object returned by the endpoint, kept verbatim.
type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Diagnostic returns the JSON-RPC error object in err's chain as JSON, or ""
// when the failure never got an answer from the endpoint.
func Diagnostic(err error) string {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return ""
	}
	raw, marshalErr := json.Marshal(rpcErr)
	if marshalErr != nil {
		return rpcErr.Error()
	}
	return string(raw)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPC talks JSON-RPC 2.0 to a Soroban RPC endpoint.
type RPC struct {
	endpoint string
	client   *resty.Client
	log      logrus.FieldLogger
}

// RPCOption customizes an RPC client.
type RPCOption func(*RPC)

// WithHTTPClient replaces the underlying resty client.
func WithHTTPClient(client *resty.Client) RPCOption {
	return func(r *RPC) {
		if client != nil {
			r.client = client
		}
	}
}

// WithLogger attaches a logger for request tracing.
func WithLogger(log logrus.FieldLogger) RPCOption {
	return func(r *RPC) {
		r.log = logging.OrDiscard(log)
	}
}

// WithTimeout bounds each RPC request.
func WithTimeout(timeout time.Duration) RPCOption {
	return func(r *RPC) {
		if timeout > 0 {
			r.client.SetTimeout(timeout)
		}
	}
}

// NewRPC builds a client for endpoint.
func NewRPC(endpoint string, opts ...RPCOption) (*RPC, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	r := &RPC{
		endpoint: endpoint,
		client: resty.New().
			SetTimeout(timeouts.RPCRequest).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		log: logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

var _ Client = (*RPC)(nil)

func (r *RPC) call(ctx context.Context, method string, params any, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
	res, err := r.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(r.endpoint)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	r.log.WithFields(logrus.Fields{
		"method": method,
		"id":     req.ID,
		"status": res.StatusCode(),
	}).Debug("rpc call")
	if res.IsError() {
		return fmt.Errorf("%s: http status %d: %s", method, res.StatusCode(), strings.TrimSpace(string(res.Body())))
	}

	var resp rpcResponse
	if err := json.Unmarshal(res.Body(), &resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// GetLatestLedger returns the most recent closed ledger.
func (r *RPC) GetLatestLedger(ctx context.Context) (LatestLedger, error) {
	var out struct {
		ID              string    `json:"id"`
		ProtocolVersion int       `json:"protocolVersion"`
		Sequence        ledgerSeq `json:"sequence"`
	}
	if err := r.call(ctx, "getLatestLedger", nil, &out); err != nil {
		return LatestLedger{}, err
	}
	return LatestLedger{
		ID:              out.ID,
		Sequence:        uint32(out.Sequence),
		ProtocolVersion: out.ProtocolVersion,
	}, nil
}

// GetAccount reads the account entry for a G... address.
func (r *RPC) GetAccount(ctx context.Context, address string) (Account, error) {
	key, err := AccountKey(address)
	if err != nil {
		return Account{}, err
	}
	entries, err := r.GetLedgerEntries(ctx, key)
	if err != nil {
		return Account{}, err
	}
	for _, entry := range entries {
		if entry.Data.Account != nil {
			return Account{
				Address:  address,
				Sequence: int64(entry.Data.Account.SeqNum),
			}, nil
		}
	}
	return Account{}, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
}

// AccountKey returns the ledger key of an account.
func AccountKey(address string) (xdr.LedgerKey, error) {
	accountID, err := xdr.AddressToAccountId(address)
	if err != nil {
		return xdr.LedgerKey{}, fmt.Errorf("account address %q: %w", address, err)
	}
	return xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}, nil
}

// GetLedgerEntries fetches and decodes ledger entries by key. Missing keys
// are omitted from the result.
func (r *RPC) GetLedgerEntries(ctx context.Context, keys ...xdr.LedgerKey) ([]LedgerEntry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	encoded := make([]string, 0, len(keys))
	for _, key := range keys {
		value, err := xdr.MarshalBase64(key)
		if err != nil {
			return nil, fmt.Errorf("encode ledger key: %w", err)
		}
		encoded = append(encoded, value)
	}

	var out struct {
		Entries []struct {
			Key                   string    `json:"key"`
			XDR                   string    `json:"xdr"`
			LastModifiedLedgerSeq ledgerSeq `json:"lastModifiedLedgerSeq"`
			LiveUntilLedgerSeq    ledgerSeq `json:"liveUntilLedgerSeq"`
		} `json:"entries"`
	}
	params := map[string]any{"keys": encoded}
	if err := r.call(ctx, "getLedgerEntries", params, &out); err != nil {
		return nil, err
	}

	entries := make([]LedgerEntry, 0, len(out.Entries))
	for _, raw := range out.Entries {
		var entry LedgerEntry
		if err := xdr.SafeUnmarshalBase64(raw.Key, &entry.Key); err != nil {
			return nil, fmt.Errorf("decode ledger entry key: %w", err)
		}
		if err := xdr.SafeUnmarshalBase64(raw.XDR, &entry.Data); err != nil {
			return nil, fmt.Errorf("decode ledger entry data: %w", err)
		}
		entry.LastModifiedLedger = uint32(raw.LastModifiedLedgerSeq)
		entry.LiveUntilLedger = uint32(raw.LiveUntilLedgerSeq)
		entries = append(entries, entry)
	}
	return entries, nil
}

// SimulateTransaction asks the endpoint to execute envelope without applying it.
func (r *RPC) SimulateTransaction(ctx context.Context, envelope xdr.TransactionEnvelope) (Simulation, error) {
	encoded, err := xdr.MarshalBase64(envelope)
	if err != nil {
		return Simulation{}, fmt.Errorf("encode envelope: %w", err)
	}
	var out struct {
		TransactionData string  `json:"transactionData"`
		MinResourceFee  stroops `json:"minResourceFee"`
		Results         []struct {
			Auth []string `json:"auth"`
			XDR  string   `json:"xdr"`
		} `json:"results"`
		Events          []string `json:"events"`
		Error           string   `json:"error"`
		RestorePreamble *struct {
			TransactionData string  `json:"transactionData"`
			MinResourceFee  stroops `json:"minResourceFee"`
		} `json:"restorePreamble"`
		LatestLedger ledgerSeq `json:"latestLedger"`
	}
	params := map[string]any{"transaction": encoded}
	if err := r.call(ctx, "simulateTransaction", params, &out); err != nil {
		return Simulation{}, err
	}

	sim := Simulation{
		TransactionDataXDR: out.TransactionData,
		MinResourceFee:     int64(out.MinResourceFee),
		Events:             out.Events,
		Error:              out.Error,
		LatestLedger:       uint32(out.LatestLedger),
	}
	if out.RestorePreamble != nil {
		sim.RestorePreamble = &RestorePreamble{
			TransactionData: out.RestorePreamble.TransactionData,
			MinResourceFee:  int64(out.RestorePreamble.MinResourceFee),
		}
	}
	if sim.Failed() {
		return sim, nil
	}
	if out.TransactionData != "" {
		if err := xdr.SafeUnmarshalBase64(out.TransactionData, &sim.TransactionData); err != nil {
			return Simulation{}, fmt.Errorf("decode transaction data: %w", err)
		}
	}
	for _, raw := range out.Results {
		result := SimulationResult{ReturnXDR: raw.XDR}
		for _, rawAuth := range raw.Auth {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(rawAuth, &entry); err != nil {
				return Simulation{}, fmt.Errorf("decode authorization entry: %w", err)
			}
			result.Auth = append(result.Auth, entry)
		}
		if raw.XDR != "" {
			if err := xdr.SafeUnmarshalBase64(raw.XDR, &result.Return); err != nil {
				return Simulation{}, fmt.Errorf("decode return value: %w", err)
			}
		}
		sim.Results = append(sim.Results, result)
	}
	return sim, nil
}

// SendTransaction submits a signed envelope.
func (r *RPC) SendTransaction(ctx context.Context, envelope xdr.TransactionEnvelope) (SendResult, error) {
	encoded, err := xdr.MarshalBase64(envelope)
	if err != nil {
		return SendResult{}, fmt.Errorf("encode envelope: %w", err)
	}
	var out struct {
		Hash                string    `json:"hash"`
		Status              string    `json:"status"`
		LatestLedger        ledgerSeq `json:"latestLedger"`
		ErrorResultXDR      string    `json:"errorResultXdr"`
		DiagnosticEventsXDR []string  `json:"diagnosticEventsXdr"`
	}
	params := map[string]any{"transaction": encoded}
	if err := r.call(ctx, "sendTransaction", params, &out); err != nil {
		return SendResult{}, err
	}
	return SendResult{
		Status:              SendStatus(out.Status),
		Hash:                out.Hash,
		LatestLedger:        uint32(out.LatestLedger),
		ErrorResultXDR:      out.ErrorResultXDR,
		DiagnosticEventsXDR: out.DiagnosticEventsXDR,
	}, nil
}

// GetTransaction returns the status of a submitted transaction.
func (r *RPC) GetTransaction(ctx context.Context, hash string) (TransactionStatus, error) {
	var out struct {
		Status        string    `json:"status"`
		Ledger        ledgerSeq `json:"ledger"`
		LatestLedger  ledgerSeq `json:"latestLedger"`
		EnvelopeXDR   string    `json:"envelopeXdr"`
		ResultXDR     string    `json:"resultXdr"`
		ResultMetaXDR string    `json:"resultMetaXdr"`
	}
	params := map[string]any{"hash": hash}
	if err := r.call(ctx, "getTransaction", params, &out); err != nil {
		return TransactionStatus{}, err
	}
	return TransactionStatus{
		Status:        TxStatus(out.Status),
		Hash:          hash,
		Ledger:        uint32(out.Ledger),
		LatestLedger:  uint32(out.LatestLedger),
		EnvelopeXDR:   out.EnvelopeXDR,
		ResultXDR:     out.ResultXDR,
		ResultMetaXDR: out.ResultMetaXDR,
	}, nil
}
