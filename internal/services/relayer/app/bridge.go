package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/louisbranch/soropass/internal/services/relayer/pipeline"
	"github.com/louisbranch/soropass/internal/services/relayer/signer"
)

// ErrNoCeremony is returned when no ceremony is waiting for an attempt.
var ErrNoCeremony = errors.New("no assertion ceremony pending")

// Ceremony is an assertion request parked until the browser answers it.
type Ceremony struct {
	AttemptID string
	Options   protocol.PublicKeyCredentialRequestOptions
	answer    chan ceremonyAnswer
}

type ceremonyAnswer struct {
	assertion signer.Assertion
	err       error
}

type parkedKey struct{}

// WithParked returns a context whose assertion requests are announced on
// parked before they block.
func WithParked(ctx context.Context, parked chan<- *Ceremony) context.Context {
	return context.WithValue(ctx, parkedKey{}, parked)
}

// Bridge is a signer.Authenticator whose ceremonies run in a browser. Each
// request waits, without a deadline, for Answer or Cancel on its attempt.
type Bridge struct {
	mu      sync.Mutex
	pending map[string]*Ceremony
	closed  chan struct{}
	once    sync.Once
}

// NewBridge returns an open Bridge.
func NewBridge() *Bridge {
	return &Bridge{pending: make(map[string]*Ceremony), closed: make(chan struct{})}
}

var _ signer.Authenticator = (*Bridge)(nil)

// IsAvailable reports whether the bridge still accepts ceremonies.
func (b *Bridge) IsAvailable(context.Context) bool {
	select {
	case <-b.closed:
		return false
	default:
		return true
	}
}

// RequestAssertion parks options under the attempt running on ctx.
func (b *Bridge) RequestAssertion(ctx context.Context, options protocol.PublicKeyCredentialRequestOptions) (signer.Assertion, error) {
	attemptID := pipeline.AttemptID(ctx)
	if attemptID == "" {
		return signer.Assertion{}, fmt.Errorf("assertion requested outside an attempt")
	}
	ceremony := &Ceremony{AttemptID: attemptID, Options: options, answer: make(chan ceremonyAnswer, 1)}

	b.mu.Lock()
	if _, exists := b.pending[attemptID]; exists {
		b.mu.Unlock()
		return signer.Assertion{}, fmt.Errorf("attempt %s already has a ceremony", attemptID)
	}
	b.pending[attemptID] = ceremony
	b.mu.Unlock()
	defer b.remove(attemptID)

	if parked, ok := ctx.Value(parkedKey{}).(chan<- *Ceremony); ok {
		select {
		case parked <- ceremony:
		default:
		}
	}

	select {
	case answer := <-ceremony.answer:
		return answer.assertion, answer.err
	case <-ctx.Done():
		return signer.Assertion{}, ctx.Err()
	case <-b.closed:
		return signer.Assertion{}, signer.ErrUnavailable
	}
}

// Answer completes the ceremony of attemptID with assertion.
func (b *Bridge) Answer(attemptID string, assertion signer.Assertion) error {
	return b.complete(attemptID, ceremonyAnswer{assertion: assertion})
}

// Cancel abandons the ceremony of attemptID.
func (b *Bridge) Cancel(attemptID string) error {
	return b.complete(attemptID, ceremonyAnswer{err: signer.ErrCancelled})
}

// Pending returns the ceremony waiting for attemptID.
func (b *Bridge) Pending(attemptID string) (*Ceremony, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ceremony, ok := b.pending[attemptID]
	return ceremony, ok
}

// Close fails every parked and future ceremony as unavailable.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.closed) })
}

func (b *Bridge) complete(attemptID string, answer ceremonyAnswer) error {
	b.mu.Lock()
	ceremony, ok := b.pending[attemptID]
	if ok {
		delete(b.pending, attemptID)
	}
	b.mu.Unlock()
	if !ok {
		return ErrNoCeremony
	}
	ceremony.answer <- answer
	return nil
}

func (b *Bridge) remove(attemptID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, attemptID)
}
