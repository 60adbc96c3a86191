package submit

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/services/relayer/ledger"
	"github.com/louisbranch/soropass/internal/services/relayer/soroban"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
)

// Outcome is what the ledger reported for one submitted envelope.
type Outcome struct {
	Hash   string
	Send   ledger.SendResult
	Status ledger.TransactionStatus
}

// Accepted reports whether sendTransaction queued the envelope.
func (o Outcome) Accepted() bool {
	return o.Send.Status == ledger.SendPending || o.Send.Status == ledger.SendDuplicate
}

// Sender signs envelopes with the relayer key, submits them, and waits for a
// terminal status.
type Sender struct {
	Client     ledger.Client
	Poller     ledger.Poller
	Passphrase string
	// Sent, when set, is called once sendTransaction has answered for the
	// envelope with hash, before polling.
	Sent func(hash string)
}

// SignAndSend signs env with relayer and submits it. Envelopes rejected at
// submission are returned without polling; the caller classifies the outcome.
func (s Sender) SignAndSend(ctx context.Context, env *xdr.TransactionEnvelope, relayer *keypair.Full) (Outcome, error) {
	if s.Client == nil {
		return Outcome{}, fmt.Errorf("ledger client is required")
	}
	if err := soroban.Sign(env, s.Passphrase, relayer); err != nil {
		return Outcome{}, err
	}
	hash, err := soroban.TransactionHash(*env, s.Passphrase)
	if err != nil {
		return Outcome{}, err
	}

	sent, err := s.Client.SendTransaction(ctx, *env)
	if err != nil {
		return Outcome{Hash: hash}, apperrors.WrapDiagnostic(apperrors.CodeSubmissionRejected, "send transaction "+hash, ledger.Diagnostic(err), err)
	}
	if sent.Hash == "" {
		sent.Hash = hash
	}
	if s.Sent != nil {
		s.Sent(sent.Hash)
	}
	out := Outcome{Hash: sent.Hash, Send: sent}
	if !out.Accepted() {
		return out, nil
	}

	poller := s.Poller
	poller.Client = s.Client
	status, err := poller.Wait(ctx, sent.Hash)
	out.Status = status
	if err != nil {
		return out, err
	}
	return out, nil
}
