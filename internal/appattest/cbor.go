// Package appattest implements the low-level binary plumbing shared by the
// App Attest verification flows: a closed-subset CBOR decoder for the
// attestation/assertion envelopes, the authenticator-data layout, and
// ECDSA signature format conversion.
//
// The decoder deliberately supports only the four shapes Apple's envelopes
// use (byte string, text string, array, map with text keys). Anything else
// decodes to nil: callers must treat nil as "reject", never guess.
package appattest

import "unicode/utf8"

// CBOR major types accepted by the subset decoder.
const (
	majorByteString = 2
	majorTextString = 3
	majorArray      = 4
	majorMap        = 5
)

// Guards against adversarial deeply nested input.
const maxDecodeDepth = 16

// DecodeCBOR decodes a CBOR-subset item from data. The result is one of
// []byte, string, []any, or map[string]any. It returns nil when the buffer
// is malformed, truncated, carries trailing bytes, or uses any encoding
// outside the supported subset. It never panics and never reads out of
// bounds.
func DecodeCBOR(data []byte) any {
	v, rest, ok := decodeItem(data, 0)
	if !ok || len(rest) != 0 {
		return nil
	}
	return v
}

func decodeItem(data []byte, depth int) (any, []byte, bool) {
	if depth > maxDecodeDepth || len(data) == 0 {
		return nil, nil, false
	}

	major := data[0] >> 5
	n, rest, ok := decodeHead(data)
	if !ok {
		return nil, nil, false
	}

	switch major {
	case majorByteString:
		if uint64(len(rest)) < n {
			return nil, nil, false
		}
		b := make([]byte, n)
		copy(b, rest[:n])
		return b, rest[n:], true

	case majorTextString:
		if uint64(len(rest)) < n {
			return nil, nil, false
		}
		s := rest[:n]
		if !utf8.Valid(s) {
			return nil, nil, false
		}
		return string(s), rest[n:], true

	case majorArray:
		items := make([]any, 0, minCap(n))
		for i := uint64(0); i < n; i++ {
			var item any
			item, rest, ok = decodeItem(rest, depth+1)
			if !ok {
				return nil, nil, false
			}
			items = append(items, item)
		}
		return items, rest, true

	case majorMap:
		m := make(map[string]any, minCap(n))
		for i := uint64(0); i < n; i++ {
			var key, val any
			key, rest, ok = decodeItem(rest, depth+1)
			if !ok {
				return nil, nil, false
			}
			ks, isText := key.(string)
			if !isText {
				return nil, nil, false
			}
			val, rest, ok = decodeItem(rest, depth+1)
			if !ok {
				return nil, nil, false
			}
			m[ks] = val
		}
		return m, rest, true

	default:
		// Unsigned/negative integers, tags, floats, simple values:
		// outside the subset, reject.
		return nil, nil, false
	}
}

// decodeHead reads the length head of an item: immediate values (<24) and
// 1/2/4-byte big-endian extensions. 8-byte and indefinite lengths are not
// part of the subset.
func decodeHead(data []byte) (uint64, []byte, bool) {
	info := data[0] & 0x1f
	switch {
	case info < 24:
		return uint64(info), data[1:], true
	case info == 24:
		if len(data) < 2 {
			return 0, nil, false
		}
		return uint64(data[1]), data[2:], true
	case info == 25:
		if len(data) < 3 {
			return 0, nil, false
		}
		return uint64(data[1])<<8 | uint64(data[2]), data[3:], true
	case info == 26:
		if len(data) < 5 {
			return 0, nil, false
		}
		return uint64(data[1])<<24 | uint64(data[2])<<16 |
			uint64(data[3])<<8 | uint64(data[4]), data[5:], true
	default:
		return 0, nil, false
	}
}

// minCap bounds pre-allocation so a lying length prefix cannot force a
// huge allocation before the element decode fails.
func minCap(n uint64) int {
	if n > 64 {
		return 64
	}
	return int(n)
}
