package credential

import (
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// RelyingParty names the site passkeys are registered for.
type RelyingParty struct {
	ID   string
	Name string
}

// CreationOptions returns registration options for a P-256 passkey with no
// attestation and discouraged user verification, so that the same device
// ceremony signs invocations later.
func CreationOptions(rp RelyingParty, userName string) (protocol.PublicKeyCredentialCreationOptions, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return protocol.PublicKeyCredentialCreationOptions{}, fmt.Errorf("user name is required")
	}
	challenge, err := protocol.CreateChallenge()
	if err != nil {
		return protocol.PublicKeyCredentialCreationOptions{}, fmt.Errorf("create challenge: %w", err)
	}
	residentKey := false
	return protocol.PublicKeyCredentialCreationOptions{
		RelyingParty: protocol.RelyingPartyEntity{
			CredentialEntity: protocol.CredentialEntity{Name: rp.Name},
			ID:               rp.ID,
		},
		User: protocol.UserEntity{
			CredentialEntity: protocol.CredentialEntity{Name: userName},
			DisplayName:      userName,
			ID:               protocol.URLEncodedBase64(userName),
		},
		Challenge: challenge,
		Parameters: []protocol.CredentialParameter{{
			Type:      protocol.PublicKeyCredentialType,
			Algorithm: webauthncose.AlgES256,
		}},
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			RequireResidentKey: &residentKey,
			ResidentKey:        protocol.ResidentKeyRequirementDiscouraged,
			UserVerification:   protocol.VerificationDiscouraged,
		},
		Attestation: protocol.PreferNoAttestation,
	}, nil
}
