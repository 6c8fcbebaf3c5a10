package utils

import (
	"strconv"
	"strings"
)

// CompareVersions compares two dotted numeric version strings.
// Returns -1 when a < b, 0 when equal, +1 when a > b.
// Missing segments count as zero, so "3.1" == "3.1.0".
// Non-numeric segments compare as zero.
func CompareVersions(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		av := versionSegment(as, i)
		bv := versionSegment(bs, i)
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// VersionLess reports whether version a is strictly older than b.
func VersionLess(a, b string) bool {
	return CompareVersions(a, b) < 0
}

func versionSegment(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}
	return v
}
