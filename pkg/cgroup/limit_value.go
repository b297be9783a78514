package cgroup

import (
	"strconv"
	"strings"

	"github.com/izoli/izoli/pkg/errors"
)

// MaxToken is how the kernel spells "no limit" in control files.
const MaxToken = "max"

// Unsigned is the set of payload widths used by cgroup v2 limit files.
type Unsigned interface {
	~uint32 | ~uint64
}

// LimitValue is either Max or a concrete Value of width T.
// The zero value is Value(0).
type LimitValue[T Unsigned] struct {
	max   bool
	value T
}

// Max returns the "no limit" variant.
func Max[T Unsigned]() LimitValue[T] {
	return LimitValue[T]{max: true}
}

// Value returns the concrete-limit variant.
func Value[T Unsigned](v T) LimitValue[T] {
	return LimitValue[T]{value: v}
}

func (l LimitValue[T]) IsMax() bool {
	return l.max
}

// Get returns the concrete value, and false for Max.
func (l LimitValue[T]) Get() (T, bool) {
	if l.max {
		return 0, false
	}
	return l.value, true
}

func (l LimitValue[T]) String() string {
	if l.max {
		return MaxToken
	}
	return strconv.FormatUint(uint64(l.value), 10)
}

// ParseLimitValue parses "max" or a decimal number that fits in T.
// Surrounding whitespace, including the kernel's trailing newline, is ignored.
func ParseLimitValue[T Unsigned](s string) (LimitValue[T], error) {
	token := strings.TrimSpace(s)
	if token == MaxToken {
		return Max[T](), nil
	}

	v, err := parseUnsigned[T](token)
	if err != nil {
		return LimitValue[T]{}, err
	}
	return Value(v), nil
}

func (l LimitValue[T]) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LimitValue[T]) UnmarshalText(text []byte) error {
	parsed, err := ParseLimitValue[T](string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func parseUnsigned[T Unsigned](token string) (T, error) {
	v, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, errors.NewParseError("invalid limit value", err).WithContext("token", token)
	}
	if v > uint64(^T(0)) {
		return 0, errors.NewParseError("limit value out of range", strconv.ErrRange).WithContext("token", token)
	}
	return T(v), nil
}
