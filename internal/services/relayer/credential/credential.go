// Package credential derives the deterministic smart-account identity of a
// passkey from its public key.
package credential

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
)

// PublicKeySize is the length of an uncompressed SEC1 P-256 point.
const PublicKeySize = 65

// Credential is a registered passkey: its authenticator id and the raw public
// key payload it reported.
type Credential struct {
	ID        []byte
	PublicKey []byte
}

// EncodedID returns the base64url form of the credential id, as browsers
// report it.
func (c Credential) EncodedID() string {
	return base64.RawURLEncoding.EncodeToString(c.ID)
}

// Identity is the deterministic on-chain identity of a credential.
type Identity struct {
	// Salt seeds the smart-account contract address.
	Salt [32]byte
	// PublicKey is the normalized uncompressed P-256 point.
	PublicKey [PublicKeySize]byte
}

// Derive normalizes a public-key payload and computes its account salt.
//
// Accepted payloads: a WebAuthn attestation object, a COSE_Key, an ASN.1
// SubjectPublicKeyInfo, or a raw uncompressed P-256 point. The salt is the
// SHA-256 of the normalized point.
func Derive(payload []byte) (Identity, error) {
	point, err := normalize(payload)
	if err != nil {
		return Identity{}, apperrors.Wrap(apperrors.CodeMalformedCredential, "derive credential key", err)
	}
	var id Identity
	copy(id.PublicKey[:], point)
	id.Salt = sha256.Sum256(point)
	return id, nil
}

func normalize(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("public key payload is empty")
	}
	switch {
	case len(payload) == PublicKeySize && payload[0] == 0x04:
		return validatePoint(payload)
	case payload[0] == 0x30:
		return fromSPKI(payload)
	case payload[0]>>5 == 5:
		// CBOR map: an attestation object or a bare COSE key.
		if point, err := fromAttestationObject(payload); err == nil {
			return point, nil
		}
		return fromCOSE(payload)
	default:
		return nil, fmt.Errorf("unrecognized public key encoding (%d bytes)", len(payload))
	}
}

func validatePoint(point []byte) ([]byte, error) {
	key, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("invalid P-256 point: %w", err)
	}
	return key.Bytes(), nil
}

func fromSPKI(der []byte) ([]byte, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse subject public key info: %w", err)
	}
	ecKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key type %T is not ECDSA", parsed)
	}
	key, err := ecKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("convert ECDSA key: %w", err)
	}
	if key.Curve() != ecdh.P256() {
		return nil, fmt.Errorf("public key curve is not P-256")
	}
	return key.Bytes(), nil
}

func fromAttestationObject(raw []byte) ([]byte, error) {
	var att protocol.AttestationObject
	if err := webauthncbor.Unmarshal(raw, &att); err != nil {
		return nil, fmt.Errorf("decode attestation object: %w", err)
	}
	if len(att.RawAuthData) == 0 {
		return nil, fmt.Errorf("attestation object has no authenticator data")
	}
	if err := att.AuthData.Unmarshal(att.RawAuthData); err != nil {
		return nil, fmt.Errorf("decode authenticator data: %w", err)
	}
	if !att.AuthData.Flags.HasAttestedCredentialData() {
		return nil, fmt.Errorf("authenticator data has no attested credential")
	}
	return fromCOSE(att.AuthData.AttData.CredentialPublicKey)
}

func fromCOSE(raw []byte) ([]byte, error) {
	parsed, err := webauthncose.ParsePublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse COSE key: %w", err)
	}
	ec2, ok := parsed.(webauthncose.EC2PublicKeyData)
	if !ok {
		return nil, fmt.Errorf("COSE key type %T is not EC2", parsed)
	}
	if webauthncose.COSEAlgorithmIdentifier(ec2.Algorithm) != webauthncose.AlgES256 {
		return nil, fmt.Errorf("COSE algorithm %d is not ES256", ec2.Algorithm)
	}
	if webauthncose.COSEEllipticCurve(ec2.Curve) != webauthncose.P256 {
		return nil, fmt.Errorf("COSE curve %d is not P-256", ec2.Curve)
	}
	if len(ec2.XCoord) != 32 || len(ec2.YCoord) != 32 {
		return nil, fmt.Errorf("COSE coordinates must be 32 bytes")
	}
	point := make([]byte, 0, PublicKeySize)
	point = append(point, 0x04)
	point = append(point, ec2.XCoord...)
	point = append(point, ec2.YCoord...)
	return validatePoint(point)
}

// FromCreationResponse parses a browser credential-creation response (the
// JSON form of a PublicKeyCredential) into a Credential.
func FromCreationResponse(body []byte) (Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		return Credential{}, apperrors.Wrap(apperrors.CodeMalformedCredential, "parse credential creation response", err)
	}
	attData := parsed.Response.AttestationObject.AuthData.AttData
	id := []byte(parsed.RawID)
	if len(id) == 0 {
		id = attData.CredentialID
	}
	if len(id) == 0 {
		return Credential{}, apperrors.New(apperrors.CodeMalformedCredential, "credential id is missing")
	}
	if len(attData.CredentialPublicKey) == 0 {
		return Credential{}, apperrors.New(apperrors.CodeMalformedCredential, "credential public key is missing")
	}
	return Credential{
		ID:        append([]byte(nil), id...),
		PublicKey: append([]byte(nil), attData.CredentialPublicKey...),
	}, nil
}
