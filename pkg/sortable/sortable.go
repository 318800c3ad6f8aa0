// Package sortable encodes block heights as strings whose lexicographic order
// matches numeric order, so that height ranges can be queried on indexed
// text columns.
//
// The encoding of a height h with decimal digits D is
//
//	"1" + prefix(len(D)) + D
//
// where prefix(n) is the single digit n for 1 <= n <= 8 and
// "9" + prefix(len(decimal(n))) + decimal(n) otherwise. The prefix is
// self-delimiting and order-preserving, so longer numbers always sort after
// shorter ones. The permanent-version marker is encoded as "0", below every
// real height. Only decimal digits are used, which keeps byte order and
// locale collation in agreement.
package sortable

import (
	"fmt"
	"math/big"
	"strconv"
)

// Permanent is the encoded permanent-version marker.
const Permanent = "0"

const (
	heightTag    = '1'
	maxShortLen  = 8
	extendedMark = '9'
)

// DecodeError is returned for strings that were not produced by Encode.
type DecodeError struct {
	Value  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sortable: cannot decode %q: %s", e.Value, e.Reason)
}

// Height is a decoded sortable value: either a non-negative block height or
// the permanent-version marker. The zero value is height 0.
type Height struct {
	value     *big.Int
	permanent bool
}

// PermanentHeight returns the permanent-version marker.
func PermanentHeight() Height {
	return Height{permanent: true}
}

// FromUint64 returns the real height h.
func FromUint64(h uint64) Height {
	return Height{value: new(big.Int).SetUint64(h)}
}

// FromBig returns the height for b. Negative values are rejected.
func FromBig(b *big.Int) (Height, error) {
	if b == nil || b.Sign() < 0 {
		return Height{}, fmt.Errorf("sortable: height must be non-negative, got %v", b)
	}

	return Height{value: new(big.Int).Set(b)}, nil
}

// IsPermanent reports whether h is the permanent-version marker.
func (h Height) IsPermanent() bool {
	return h.permanent
}

// Big returns a copy of the height, or nil for the permanent marker.
func (h Height) Big() *big.Int {
	if h.permanent {
		return nil
	}
	if h.value == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(h.value)
}

// Uint64 returns the height if it is a real height that fits in a uint64.
func (h Height) Uint64() (uint64, bool) {
	if h.permanent {
		return 0, false
	}
	if h.value == nil {
		return 0, true
	}
	if !h.value.IsUint64() {
		return 0, false
	}

	return h.value.Uint64(), true
}

// Cmp compares two heights; the permanent marker is below every real height.
func (h Height) Cmp(o Height) int {
	switch {
	case h.permanent && o.permanent:
		return 0
	case h.permanent:
		return -1
	case o.permanent:
		return 1
	}

	return h.Big().Cmp(o.Big())
}

func (h Height) String() string {
	if h.permanent {
		return "PERMANENT"
	}

	return h.Big().String()
}

// Encode returns the sortable string form of h.
func Encode(h Height) string {
	if h.permanent {
		return Permanent
	}

	digits := h.Big().String()

	return string(heightTag) + lengthPrefix(len(digits)) + digits
}

// EncodeUint64 is Encode for a uint64 height, without the big.Int round trip.
func EncodeUint64(h uint64) string {
	digits := strconv.FormatUint(h, 10)

	return string(heightTag) + lengthPrefix(len(digits)) + digits
}

// Decode is the exact inverse of Encode.
func Decode(s string) (Height, error) {
	if s == Permanent {
		return PermanentHeight(), nil
	}

	digits, err := payload(s)
	if err != nil {
		return Height{}, err
	}

	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Height{}, &DecodeError{Value: s, Reason: "invalid digits"}
	}

	return Height{value: value}, nil
}

// DecodeUint64 decodes a real height that fits in a uint64. The permanent
// marker is rejected.
func DecodeUint64(s string) (uint64, error) {
	if s == Permanent {
		return 0, &DecodeError{Value: s, Reason: "permanent marker is not a height"}
	}

	digits, err := payload(s)
	if err != nil {
		return 0, err
	}

	h, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, &DecodeError{Value: s, Reason: "height overflows uint64"}
	}

	return h, nil
}

func lengthPrefix(n int) string {
	if n <= maxShortLen {
		return strconv.Itoa(n)
	}

	digits := strconv.Itoa(n)

	return string(extendedMark) + lengthPrefix(len(digits)) + digits
}

// payload validates the framing of s and returns its decimal digits.
func payload(s string) (string, error) {
	if s == "" {
		return "", &DecodeError{Value: s, Reason: "empty string"}
	}
	if s[0] != heightTag {
		return "", &DecodeError{Value: s, Reason: "unknown tag"}
	}

	n, next, err := readLength(s, 1)
	if err != nil {
		return "", err
	}

	digits := s[next:]
	if len(digits) != n {
		return "", &DecodeError{Value: s, Reason: fmt.Sprintf("expected %d digits, got %d", n, len(digits))}
	}
	if !isDigits(digits) {
		return "", &DecodeError{Value: s, Reason: "non-digit character"}
	}
	if n > 1 && digits[0] == '0' {
		return "", &DecodeError{Value: s, Reason: "leading zero"}
	}

	return digits, nil
}

func readLength(s string, pos int) (int, int, error) {
	if pos >= len(s) {
		return 0, 0, &DecodeError{Value: s, Reason: "truncated length prefix"}
	}

	c := s[pos]
	switch {
	case c >= '1' && c <= '0'+maxShortLen:
		return int(c - '0'), pos + 1, nil
	case c == extendedMark:
		k, next, err := readLength(s, pos+1)
		if err != nil {
			return 0, 0, err
		}
		if k > 18 || next+k > len(s) {
			return 0, 0, &DecodeError{Value: s, Reason: "truncated length prefix"}
		}

		digits := s[next : next+k]
		if !isDigits(digits) || digits[0] == '0' {
			return 0, 0, &DecodeError{Value: s, Reason: "malformed length prefix"}
		}

		n, err := strconv.Atoi(digits)
		if err != nil || n <= maxShortLen {
			return 0, 0, &DecodeError{Value: s, Reason: "malformed length prefix"}
		}

		return n, next + k, nil
	default:
		return 0, 0, &DecodeError{Value: s, Reason: "malformed length prefix"}
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}
