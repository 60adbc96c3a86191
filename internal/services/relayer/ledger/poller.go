package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/soropass/internal/platform/timeouts"
)

const defaultPollAttempts = 20

// Poller waits for a submitted transaction to reach a terminal status.
type Poller struct {
	Client   Client
	Attempts int
	Interval time.Duration
}

func (p Poller) normalized() Poller {
	if p.Attempts <= 0 {
		p.Attempts = defaultPollAttempts
	}
	if p.Interval <= 0 {
		p.Interval = timeouts.PollInterval
	}
	return p
}

// Wait polls getTransaction up to Attempts times, Interval apart. It returns
// the terminal status, or the last NOT_FOUND status once the bound is spent.
func (p Poller) Wait(ctx context.Context, hash string) (TransactionStatus, error) {
	if p.Client == nil {
		return TransactionStatus{}, fmt.Errorf("ledger client is required")
	}
	p = p.normalized()

	last := TransactionStatus{Status: TxNotFound, Hash: hash}
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		status, err := p.Client.GetTransaction(ctx, hash)
		if err != nil {
			return last, fmt.Errorf("poll transaction %s: %w", hash, err)
		}
		last = status
		if status.Status.Terminal() {
			return status, nil
		}
		if attempt == p.Attempts {
			break
		}
		if !waitPoll(ctx, p.Interval) {
			return last, ctx.Err()
		}
	}
	last.Status = TxNotFound
	return last, nil
}

func waitPoll(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
