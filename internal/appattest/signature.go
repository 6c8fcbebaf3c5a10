package appattest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"math/big"
)

// ConvertDERSignature converts an ASN.1 DER-encoded ECDSA signature to the
// fixed 64-byte raw r||s form. Each component is left-zero-padded to 32
// bytes; a leading zero byte added by the DER encoder for sign
// disambiguation is absorbed by the big.Int round trip. Returns nil when
// the input is not a valid DER signature or a component exceeds 32 bytes.
func ConvertDERSignature(der []byte) []byte {
	var sig struct{ R, S *big.Int }
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil || len(rest) != 0 {
		return nil
	}
	if sig.R.Sign() <= 0 || sig.S.Sign() <= 0 {
		return nil
	}
	if sig.R.BitLen() > 256 || sig.S.BitLen() > 256 {
		return nil
	}

	raw := make([]byte, 64)
	sig.R.FillBytes(raw[:32])
	sig.S.FillBytes(raw[32:])
	return raw
}

// VerifyRawSignature verifies a raw 64-byte r||s ECDSA/P-256 signature over
// SHA-256(authData || clientDataHash) with a DER (PKIX) encoded public key.
func VerifyRawSignature(pubDER, authData, clientDataHash, rawSig []byte) bool {
	if len(rawSig) != 64 {
		return false
	}

	pubIfc, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return false
	}
	pub, ok := pubIfc.(*ecdsa.PublicKey)
	if !ok {
		return false
	}

	signed := make([]byte, 0, len(authData)+len(clientDataHash))
	signed = append(signed, authData...)
	signed = append(signed, clientDataHash...)
	digest := sha256.Sum256(signed)

	r := new(big.Int).SetBytes(rawSig[:32])
	s := new(big.Int).SetBytes(rawSig[32:])
	return ecdsa.Verify(pub, digest[:], r, s)
}

// CredentialPublicKeyDER converts the raw COSE EC2 credential key embedded
// in authenticator data to PKIX DER. The COSE map uses integer keys, which
// the subset decoder rejects, so the x/y coordinates are located
// positionally: a P-256 EC2 COSE key carries two 32-byte byte strings
// (0x58 0x20 prefix) for x and y.
func CredentialPublicKeyDER(coseKey []byte) []byte {
	coords := make([][]byte, 0, 2)
	for i := 0; i+34 <= len(coseKey) && len(coords) < 2; i++ {
		if coseKey[i] == 0x58 && coseKey[i+1] == 0x20 {
			coords = append(coords, coseKey[i+2:i+34])
			i += 33
		}
	}
	if len(coords) != 2 {
		return nil
	}

	pub := ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(coords[0]),
		Y:     new(big.Int).SetBytes(coords[1]),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil
	}

	der, err := x509.MarshalPKIXPublicKey(&pub)
	if err != nil {
		return nil
	}
	return der
}
