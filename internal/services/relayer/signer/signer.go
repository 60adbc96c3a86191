// Package signer asks the platform authenticator to sign an authorization
// hash with the user's passkey.
package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/platform/otel"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// UserVerification is requested on every assertion. It is never upgraded or
// downgraded per request.
const UserVerification = protocol.VerificationDiscouraged

var (
	// ErrCancelled is returned by an Authenticator when the user abandons the ceremony.
	ErrCancelled = errors.New("assertion ceremony cancelled")
	// ErrUnavailable is returned by an Authenticator that cannot run a ceremony.
	ErrUnavailable = errors.New("authenticator unavailable")
)

// Assertion is the authenticator's answer to an assertion request.
type Assertion struct {
	CredentialID      []byte
	AuthenticatorData []byte
	ClientDataJSON    []byte
	// Signature is the ASN.1 DER ECDSA signature over
	// authenticatorData || SHA-256(clientDataJSON).
	Signature []byte
}

// Authenticator runs the platform assertion ceremony. RequestAssertion blocks
// until the user answers or ctx is done.
type Authenticator interface {
	IsAvailable(ctx context.Context) bool
	RequestAssertion(ctx context.Context, options protocol.PublicKeyCredentialRequestOptions) (Assertion, error)
}

// Config holds relying party settings for assertion requests.
type Config struct {
	RPID    string
	Origins []string
}

// Signer obtains passkey signatures over authorization hashes.
type Signer struct {
	auth Authenticator
	cfg  Config
	log  logrus.FieldLogger
}

// New returns a Signer using auth.
func New(auth Authenticator, cfg Config, log logrus.FieldLogger) (*Signer, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	cfg.RPID = strings.TrimSpace(cfg.RPID)
	return &Signer{auth: auth, cfg: cfg, log: logging.OrDiscard(log).WithField("component", "signer")}, nil
}

// Challenge is the client-data encoding of hash.
func Challenge(hash [32]byte) string {
	return protocol.URLEncodedBase64(hash[:]).String()
}

// Options returns the request options for signing hash. A known credential id
// restricts the ceremony to that credential; otherwise any discoverable
// credential may answer.
func (s *Signer) Options(hash [32]byte, credentialID []byte) protocol.PublicKeyCredentialRequestOptions {
	options := protocol.PublicKeyCredentialRequestOptions{
		Challenge:        protocol.URLEncodedBase64(hash[:]),
		RelyingPartyID:   s.cfg.RPID,
		UserVerification: UserVerification,
	}
	if len(credentialID) > 0 {
		options.AllowedCredentials = []protocol.CredentialDescriptor{{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: protocol.URLEncodedBase64(credentialID),
		}}
	}
	return options
}

// Sign requests an assertion over hash and checks that the authenticator
// signed this challenge.
func (s *Signer) Sign(ctx context.Context, hash [32]byte, credentialID []byte) (assertion Assertion, err error) {
	ctx, span := otel.StartSpan(ctx, "relayer.sign", attribute.Bool("credential.known", len(credentialID) > 0))
	defer func() { otel.EndSpan(span, err) }()

	if !s.auth.IsAvailable(ctx) {
		return Assertion{}, apperrors.New(apperrors.CodeAuthenticatorUnavailable, "no platform authenticator")
	}

	assertion, err = s.auth.RequestAssertion(ctx, s.Options(hash, credentialID))
	if err != nil {
		return Assertion{}, classify(err)
	}
	if err := s.check(assertion, hash, credentialID); err != nil {
		return Assertion{}, err
	}
	s.log.WithField("credential_id", protocol.URLEncodedBase64(assertion.CredentialID).String()).Debug("assertion received")
	return assertion, nil
}

func (s *Signer) check(assertion Assertion, hash [32]byte, credentialID []byte) error {
	if len(assertion.Signature) == 0 || len(assertion.AuthenticatorData) == 0 {
		return apperrors.New(apperrors.CodeAssertionFailed, "assertion is missing its signature")
	}
	if len(credentialID) > 0 && !bytes.Equal(assertion.CredentialID, credentialID) {
		return apperrors.New(apperrors.CodeAssertionFailed, "assertion signed by an unexpected credential")
	}

	var client protocol.CollectedClientData
	if err := json.Unmarshal(assertion.ClientDataJSON, &client); err != nil {
		return apperrors.Wrap(apperrors.CodeAssertionFailed, "decode client data", err)
	}
	challenge := Challenge(hash)
	if len(s.cfg.Origins) > 0 {
		if err := client.Verify(challenge, protocol.AssertCeremony, s.cfg.Origins, nil, protocol.TopOriginIgnoreVerificationMode); err != nil {
			return apperrors.Wrap(apperrors.CodeAssertionFailed, "verify client data", err)
		}
		return nil
	}
	if client.Type != protocol.AssertCeremony {
		return apperrors.New(apperrors.CodeAssertionFailed, "client data is not an assertion: "+string(client.Type))
	}
	if client.Challenge != challenge {
		return apperrors.New(apperrors.CodeAssertionFailed, "client data challenge does not match")
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return apperrors.Wrap(apperrors.CodeUserCancelled, "assertion cancelled", err)
	case errors.Is(err, ErrUnavailable):
		return apperrors.Wrap(apperrors.CodeAuthenticatorUnavailable, "authenticator unavailable", err)
	case apperrors.CodeOf(err) != apperrors.CodeUnknown:
		return err
	default:
		return apperrors.Wrap(apperrors.CodeAssertionFailed, "assertion failed", err)
	}
}

// ParseAssertionResponse decodes a browser PublicKeyCredential assertion JSON.
func ParseAssertionResponse(body []byte) (Assertion, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		return Assertion{}, apperrors.Wrap(apperrors.CodeAssertionFailed, "parse assertion response", err)
	}
	id := parsed.RawID
	if len(id) == 0 {
		if id, err = base64.RawURLEncoding.DecodeString(parsed.ID); err != nil {
			return Assertion{}, apperrors.Wrap(apperrors.CodeAssertionFailed, "decode credential id", err)
		}
	}
	return Assertion{
		CredentialID:      id,
		AuthenticatorData: []byte(parsed.Raw.AssertionResponse.AuthenticatorData),
		ClientDataJSON:    []byte(parsed.Raw.AssertionResponse.ClientDataJSON),
		Signature:         parsed.Response.Signature,
	}, nil
}
