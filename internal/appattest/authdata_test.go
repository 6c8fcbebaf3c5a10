package appattest

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildAuthData(flags byte, counter uint32, credID, pubKey []byte) []byte {
	out := make([]byte, 0, 64)
	rpid := make([]byte, 32)
	for i := range rpid {
		rpid[i] = byte(i)
	}
	out = append(out, rpid...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, counter)

	aaguid := bytes.Repeat([]byte{0xaa}, 16)
	out = append(out, aaguid...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(credID)))
	out = append(out, credID...)
	out = append(out, pubKey...)
	return out
}

func TestParseAuthenticatorData(t *testing.T) {
	credID := []byte("credential-id-01")
	pubKey := []byte{0x58, 0x20, 1, 2, 3}

	ad := ParseAuthenticatorData(buildAuthData(FlagAttestedCredential|FlagUserPresent, 42, credID, pubKey))
	if ad == nil {
		t.Fatal("Expected parse to succeed")
	}
	if ad.Counter != 42 {
		t.Fatalf("Expected counter 42, got %d", ad.Counter)
	}
	if !bytes.Equal(ad.CredentialID, credID) {
		t.Fatalf("Expected credential id %q, got %q", credID, ad.CredentialID)
	}
	if !bytes.Equal(ad.PublicKey, pubKey) {
		t.Fatalf("Expected public key tail %x, got %x", pubKey, ad.PublicKey)
	}
	if len(ad.RPIDHash) != 32 || len(ad.AAGUID) != 16 {
		t.Fatalf("Bad fixed-field lengths: rpid=%d aaguid=%d", len(ad.RPIDHash), len(ad.AAGUID))
	}
}

func TestParseAuthenticatorDataTooShort(t *testing.T) {
	for n := 0; n < authDataMinLen; n++ {
		if ad := ParseAuthenticatorData(make([]byte, n)); ad != nil {
			t.Fatalf("Length %d: expected nil", n)
		}
	}
}

func TestParseAuthenticatorDataCredentialFlagClear(t *testing.T) {
	data := buildAuthData(FlagUserPresent, 7, []byte("id"), nil)
	if ad := ParseAuthenticatorData(data); ad != nil {
		t.Fatal("Expected nil when attested-credential flag is clear")
	}
}

func TestParseAuthenticatorDataCredentialUnderflow(t *testing.T) {
	full := buildAuthData(FlagAttestedCredential, 1, []byte("credential-id"), nil)
	// Every truncation inside the credential block must fail.
	for n := authDataMinLen; n < len(full); n++ {
		if ad := ParseAuthenticatorData(full[:n]); ad != nil {
			t.Fatalf("Truncation at %d: expected nil", n)
		}
	}
}

func TestAssertionCounter(t *testing.T) {
	data := make([]byte, authDataMinLen)
	binary.BigEndian.PutUint32(data[33:37], 12345)

	counter, ok := AssertionCounter(data)
	if !ok || counter != 12345 {
		t.Fatalf("Expected counter 12345, got %d (ok=%v)", counter, ok)
	}

	if _, ok := AssertionCounter(data[:36]); ok {
		t.Fatal("Expected failure for short buffer")
	}
}
