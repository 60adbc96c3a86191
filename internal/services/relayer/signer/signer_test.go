package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
)

type fakeAuthenticator struct {
	available bool
	assertion func(protocol.PublicKeyCredentialRequestOptions) (Assertion, error)
	requests  []protocol.PublicKeyCredentialRequestOptions
}

func (f *fakeAuthenticator) IsAvailable(context.Context) bool {
	return f.available
}

func (f *fakeAuthenticator) RequestAssertion(_ context.Context, options protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
	f.requests = append(f.requests, options)
	return f.assertion(options)
}

var (
	testHash     = [32]byte{1, 2, 3, 4, 5}
	credentialID = []byte("credential-1")
)

func clientData(t *testing.T, ceremony protocol.CeremonyType, challenge, origin string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": ceremony, "challenge": challenge, "origin": origin})
	if err != nil {
		t.Fatalf("marshal client data: %v", err)
	}
	return raw
}

func authenticatorData() []byte {
	data := make([]byte, 37)
	data[32] = 0x01
	return data
}

func answering(t *testing.T, origin string) *fakeAuthenticator {
	return &fakeAuthenticator{
		available: true,
		assertion: func(options protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
			return Assertion{
				CredentialID:      credentialID,
				AuthenticatorData: authenticatorData(),
				ClientDataJSON:    clientData(t, protocol.AssertCeremony, options.Challenge.String(), origin),
				Signature:         []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01},
			}, nil
		},
	}
}

func TestOptions(t *testing.T) {
	s, err := New(&fakeAuthenticator{}, Config{RPID: " soropass.example "}, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	options := s.Options(testHash, credentialID)
	if !bytes.Equal(options.Challenge, testHash[:]) {
		t.Fatalf("challenge = %x, want %x", []byte(options.Challenge), testHash)
	}
	if options.UserVerification != protocol.VerificationDiscouraged {
		t.Fatalf("user verification = %q, want discouraged", options.UserVerification)
	}
	if options.RelyingPartyID != "soropass.example" {
		t.Fatalf("rp id = %q", options.RelyingPartyID)
	}
	if len(options.AllowedCredentials) != 1 || !bytes.Equal(options.AllowedCredentials[0].CredentialID, credentialID) {
		t.Fatalf("allowed credentials = %+v", options.AllowedCredentials)
	}

	if discover := s.Options(testHash, nil); len(discover.AllowedCredentials) != 0 {
		t.Fatalf("allowed credentials without id = %+v, want none", discover.AllowedCredentials)
	}
}

func TestChallengeIsUnpaddedBase64URL(t *testing.T) {
	want := base64.RawURLEncoding.EncodeToString(testHash[:])
	if got := Challenge(testHash); got != want {
		t.Fatalf("Challenge = %q, want %q", got, want)
	}
}

func TestSignReturnsAssertion(t *testing.T) {
	auth := answering(t, "https://soropass.example")
	s, err := New(auth, Config{RPID: "soropass.example", Origins: []string{"https://soropass.example"}}, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	assertion, err := s.Sign(context.Background(), testHash, credentialID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !bytes.Equal(assertion.CredentialID, credentialID) {
		t.Fatalf("credential id = %q", assertion.CredentialID)
	}
	if len(auth.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(auth.requests))
	}
}

func TestSignErrors(t *testing.T) {
	tests := []struct {
		name    string
		auth    *fakeAuthenticator
		origins []string
		want    apperrors.Code
	}{
		{
			name: "unavailable",
			auth: &fakeAuthenticator{},
			want: apperrors.CodeAuthenticatorUnavailable,
		},
		{
			name: "cancelled",
			auth: &fakeAuthenticator{available: true, assertion: func(protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
				return Assertion{}, fmt.Errorf("user closed the prompt: %w", ErrCancelled)
			}},
			want: apperrors.CodeUserCancelled,
		},
		{
			name: "context cancelled",
			auth: &fakeAuthenticator{available: true, assertion: func(protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
				return Assertion{}, context.Canceled
			}},
			want: apperrors.CodeUserCancelled,
		},
		{
			name: "lost authenticator",
			auth: &fakeAuthenticator{available: true, assertion: func(protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
				return Assertion{}, ErrUnavailable
			}},
			want: apperrors.CodeAuthenticatorUnavailable,
		},
		{
			name: "other failure",
			auth: &fakeAuthenticator{available: true, assertion: func(protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
				return Assertion{}, errors.New("NotAllowedError")
			}},
			want: apperrors.CodeAssertionFailed,
		},
		{
			name: "wrong challenge",
			auth: &fakeAuthenticator{available: true, assertion: func(protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
				return Assertion{
					CredentialID:      credentialID,
					AuthenticatorData: authenticatorData(),
					ClientDataJSON:    clientData(t, protocol.AssertCeremony, "other", "https://soropass.example"),
					Signature:         []byte{1},
				}, nil
			}},
			want: apperrors.CodeAssertionFailed,
		},
		{
			name: "registration ceremony",
			auth: &fakeAuthenticator{available: true, assertion: func(o protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
				return Assertion{
					CredentialID:      credentialID,
					AuthenticatorData: authenticatorData(),
					ClientDataJSON:    clientData(t, protocol.CreateCeremony, o.Challenge.String(), "https://soropass.example"),
					Signature:         []byte{1},
				}, nil
			}},
			want: apperrors.CodeAssertionFailed,
		},
		{
			name:    "foreign origin",
			auth:    answering(t, "https://evil.example"),
			origins: []string{"https://soropass.example"},
			want:    apperrors.CodeAssertionFailed,
		},
		{
			name: "other credential",
			auth: &fakeAuthenticator{available: true, assertion: func(o protocol.PublicKeyCredentialRequestOptions) (Assertion, error) {
				return Assertion{
					CredentialID:      []byte("credential-2"),
					AuthenticatorData: authenticatorData(),
					ClientDataJSON:    clientData(t, protocol.AssertCeremony, o.Challenge.String(), "https://soropass.example"),
					Signature:         []byte{1},
				}, nil
			}},
			want: apperrors.CodeAssertionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.auth, Config{Origins: tt.origins}, nil)
			if err != nil {
				t.Fatalf("new signer: %v", err)
			}
			_, err = s.Sign(context.Background(), testHash, credentialID)
			if got := apperrors.CodeOf(err); got != tt.want {
				t.Fatalf("code = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestParseAssertionResponse(t *testing.T) {
	client := clientData(t, protocol.AssertCeremony, Challenge(testHash), "https://soropass.example")
	signature := []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01}
	enc := base64.RawURLEncoding.EncodeToString
	body, err := json.Marshal(map[string]any{
		"id":    enc(credentialID),
		"rawId": enc(credentialID),
		"type":  "public-key",
		"response": map[string]string{
			"clientDataJSON":    enc(client),
			"authenticatorData": enc(authenticatorData()),
			"signature":         enc(signature),
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	assertion, err := ParseAssertionResponse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(assertion.CredentialID, credentialID) {
		t.Fatalf("credential id = %q, want %q", assertion.CredentialID, credentialID)
	}
	if !bytes.Equal(assertion.ClientDataJSON, client) {
		t.Fatalf("client data = %s", assertion.ClientDataJSON)
	}
	if !bytes.Equal(assertion.Signature, signature) {
		t.Fatalf("signature = %x, want %x", assertion.Signature, signature)
	}
	if len(assertion.AuthenticatorData) != 37 {
		t.Fatalf("authenticator data len = %d, want 37", len(assertion.AuthenticatorData))
	}
}

func TestParseAssertionResponseRejectsGarbage(t *testing.T) {
	_, err := ParseAssertionResponse([]byte(`{"id":"","type":"public-key"}`))
	if got := apperrors.CodeOf(err); got != apperrors.CodeAssertionFailed {
		t.Fatalf("code = %s, want %s", got, apperrors.CodeAssertionFailed)
	}
}
