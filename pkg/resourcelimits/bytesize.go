package resourcelimits

import (
	"strings"

	"github.com/docker/go-units"

	"github.com/izoli/izoli/pkg/errors"
)

// ByteSize is a size in bytes written with binary units in configuration,
// "512M", "1g", "64KiB" or plain "1048576".
type ByteSize uint64

func ParseByteSize(s string) (ByteSize, error) {
	size, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.NewParseError("invalid size", err).WithContext("size", s)
	}
	if size < 0 {
		return 0, errors.NewParseError("size cannot be negative", nil).WithContext("size", s)
	}
	return ByteSize(size), nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
