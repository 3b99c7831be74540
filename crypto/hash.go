package crypto

import (
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/tangleward/tangle/common"
)

// Hash is the base64 encoding of a SHA3-256 digest. It identifies a
// Transaction or, in the pruning-alias case, one of a synthetic genesis's
// former identities (see Tangle.Prune).
type Hash string

// Invalid is the sentinel Hash meaning "no hash".
const Invalid Hash = "Invalid"

// SumHash256 returns the base64-encoded SHA3-256 digest of data.
func SumHash256(data []byte) Hash {
	sum := sha3.Sum256(data)
	return Hash(common.EncodeToString(sum[:]))
}

// String implements Stringer.
func (h Hash) String() string {
	return string(h)
}

// IsValid reports whether h is not the Invalid sentinel.
func (h Hash) IsValid() bool {
	return h != Invalid && h != ""
}

// base64Rank orders one base64 character the way the mining-target
// comparison requires: '/' > '+' > digits > lowercase > uppercase.
func base64Rank(c byte) int {
	switch {
	case c == '/':
		return 65
	case c == '+':
		return 64
	case c >= '0' && c <= '9':
		return 54 + int(c-'0')
	case c >= 'a' && c <= 'z':
		return 28 + int(c-'a')
	case c >= 'A' && c <= 'Z':
		return int(c - 'A')
	default:
		return -1
	}
}

// Compare orders two Hash values under the total order used only for the
// mining-target comparison: longer strings are larger, and within
// equal-length strings characters are ordered by base64Rank. It returns a
// negative number if a < b, zero if equal, positive if a > b.
func Compare(a, b Hash) int {
	sa, sb := string(a), string(b)
	if len(sa) != len(sb) {
		return len(sa) - len(sb)
	}
	for i := 0; i < len(sa); i++ {
		ra, rb := base64Rank(sa[i]), base64Rank(sb[i])
		if ra != rb {
			return ra - rb
		}
	}
	return 0
}

// LessOrEqual reports whether a is numerically <= b under Compare.
func LessOrEqual(a, b Hash) bool {
	return Compare(a, b) <= 0
}

// MiningTarget builds the padded target string against which a mined hash's
// numeric value is compared: difficulty copies of target, then '/' padding
// out to length n.
func MiningTarget(difficulty int, target byte, n int) Hash {
	var b strings.Builder
	for i := 0; i < difficulty && i < n; i++ {
		b.WriteByte(target)
	}
	for b.Len() < n {
		b.WriteByte('/')
	}
	return Hash(b.String())
}

// HasPrefix reports whether every one of the first difficulty characters of h
// equals target -- the simple, non-numeric half of the mining predicate.
func HasPrefix(h Hash, difficulty int, target byte) bool {
	s := string(h)
	if len(s) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if s[i] != target {
			return false
		}
	}
	return true
}
