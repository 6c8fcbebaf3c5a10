package appattest

import "encoding/binary"

// Authenticator-data flag bits.
const (
	FlagUserPresent        = 0x01
	FlagAttestedCredential = 0x40
)

// Fixed prefix: 32-byte RP ID hash + 1 flag byte + 4-byte counter.
const authDataMinLen = 37

// AuthenticatorData is the parsed credential-bearing authenticator data
// from an attestation object.
type AuthenticatorData struct {
	RPIDHash     []byte // 32 bytes
	Flags        byte
	Counter      uint32
	AAGUID       []byte // 16 bytes
	CredentialID []byte
	PublicKey    []byte // raw credential public key (COSE-encoded), rest of buffer
}

// ParseAuthenticatorData unpacks the credential block from authenticator
// data. It returns nil when the buffer underflows at any field or when the
// attested-credential flag is clear (assertions never carry a credential
// block, so this parser only accepts attestation-shaped input).
func ParseAuthenticatorData(data []byte) *AuthenticatorData {
	if len(data) < authDataMinLen {
		return nil
	}

	ad := &AuthenticatorData{
		RPIDHash: data[:32],
		Flags:    data[32],
		Counter:  binary.BigEndian.Uint32(data[33:37]),
	}

	if ad.Flags&FlagAttestedCredential == 0 {
		return nil
	}

	rest := data[authDataMinLen:]
	if len(rest) < 18 { // 16-byte AAGUID + 2-byte credential-id length
		return nil
	}
	ad.AAGUID = rest[:16]
	credIDLen := int(binary.BigEndian.Uint16(rest[16:18]))
	rest = rest[18:]

	if len(rest) < credIDLen {
		return nil
	}
	ad.CredentialID = rest[:credIDLen]
	ad.PublicKey = rest[credIDLen:]

	return ad
}

// AssertionCounter reads the big-endian monotonic counter from assertion
// authenticator data. ok is false when the buffer is shorter than the fixed
// 37-byte prefix.
func AssertionCounter(authData []byte) (uint32, bool) {
	if len(authData) < authDataMinLen {
		return 0, false
	}
	return binary.BigEndian.Uint32(authData[33:37]), true
}
