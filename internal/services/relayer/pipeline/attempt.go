package pipeline

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
)

// State is a step of one authorization attempt.
type State string

const (
	StateNew          State = "NEW"
	StateBuilt        State = "BUILT"
	StateSimulated    State = "SIMULATED"
	StateHashComputed State = "HASH_COMPUTED"
	StateSigned       State = "SIGNED"
	StateSubmitted    State = "SUBMITTED"
	StateConfirmed    State = "CONFIRMED"
	StateRejected     State = "REJECTED"
	StateExpired      State = "EXPIRED"
	// StateAbandoned ends attempts that failed before the ledger received
	// the envelope.
	StateAbandoned State = "ABANDONED"
)

// An authorization that lapses before the ledger sees it still ends Expired.
var transitions = map[State][]State{
	StateNew:          {StateBuilt, StateAbandoned},
	StateBuilt:        {StateSimulated, StateAbandoned},
	StateSimulated:    {StateHashComputed, StateAbandoned},
	StateHashComputed: {StateSigned, StateAbandoned},
	StateSigned:       {StateSubmitted, StateExpired, StateAbandoned},
	StateSubmitted:    {StateConfirmed, StateRejected, StateExpired},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Attempt tracks one pass through build, simulate, hash, sign and submit.
// A terminal attempt is never resumed; callers start a new one.
type Attempt struct {
	ID       string
	Contract string
	Function string

	mu               sync.Mutex
	state            State
	history          []State
	expirationLedger uint32
	authHash         string
	txHash           string
	err              error
}

func newAttempt(id, contract, function string) *Attempt {
	return &Attempt{ID: id, Contract: contract, Function: function, state: StateNew, history: []State{StateNew}}
}

func (a *Attempt) advance(next State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransition(a.state, next) {
		return fmt.Errorf("attempt %s: invalid transition %s -> %s", a.ID, a.state, next)
	}
	a.state = next
	a.history = append(a.history, next)
	return nil
}

// submitted records that the ledger received the envelope with hash.
func (a *Attempt) submitted(hash string) error {
	if err := a.advance(StateSubmitted); err != nil {
		return err
	}
	a.mu.Lock()
	a.txHash = hash
	a.mu.Unlock()
	return nil
}

// finish moves the attempt to the terminal state matching err.
func (a *Attempt) finish(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := StateConfirmed
	switch {
	case err == nil:
	case apperrors.HasCode(err, apperrors.CodeExpiredAuthorization) && (a.state == StateSigned || a.state == StateSubmitted):
		next = StateExpired
	case a.state != StateSubmitted:
		next = StateAbandoned
	default:
		next = StateRejected
	}
	if canTransition(a.state, next) {
		a.state = next
		a.history = append(a.history, next)
	}
	a.err = err
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns every state the attempt has been in, in order.
func (a *Attempt) History() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]State(nil), a.history...)
}

// Err returns the error that ended the attempt, if any.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// ExpirationLedger returns the signature expiration chosen for the attempt.
func (a *Attempt) ExpirationLedger() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expirationLedger
}

// AuthHash returns the hex authorization hash the user was asked to sign.
func (a *Attempt) AuthHash() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authHash
}

// TxHash returns the submitted transaction hash.
func (a *Attempt) TxHash() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txHash
}

type attemptKey struct{}

func withAttempt(ctx context.Context, attempt *Attempt) context.Context {
	return WithAttemptID(ctx, attempt.ID)
}

// WithAttemptID marks ctx as running the attempt with id.
func WithAttemptID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptKey{}, id)
}

// AttemptID returns the attempt running on ctx. Authenticators use it to
// route a ceremony back to its caller.
func AttemptID(ctx context.Context) string {
	id, _ := ctx.Value(attemptKey{}).(string)
	return id
}
