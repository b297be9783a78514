package cgroup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/izoli/izoli/pkg/errors"
)

// DefaultCpuPeriod is the kernel's default cpu.max period in microseconds.
const DefaultCpuPeriod uint64 = 100000

// CpuLimit is the content of cpu.max: "$MAX $PERIOD".
type CpuLimit struct {
	Max    LimitValue[uint64]
	Period uint64
}

func (c CpuLimit) String() string {
	return fmt.Sprintf("%s %d", c.Max, c.Period)
}

func ParseCpuLimit(s string) (CpuLimit, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return CpuLimit{}, errors.NewParseError("cpu limit must have exactly two tokens", nil).WithContext("content", s)
	}

	max, err := ParseLimitValue[uint64](fields[0])
	if err != nil {
		return CpuLimit{}, errors.NewParseError("invalid cpu quota", err).WithContext("content", s)
	}

	period, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return CpuLimit{}, errors.NewParseError("invalid cpu period", err).WithContext("content", s)
	}

	return CpuLimit{Max: max, Period: period}, nil
}

func (c CpuLimit) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CpuLimit) UnmarshalText(text []byte) error {
	parsed, err := ParseCpuLimit(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
