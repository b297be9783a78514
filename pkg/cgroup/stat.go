package cgroup

import (
	"strconv"
	"strings"

	"github.com/izoli/izoli/pkg/errors"
)

// Stat is the content of cgroup.stat.
type Stat struct {
	NrDescendants      uint64
	NrDyingDescendants uint64
}

// ParseStat reads "key value" lines; keys it does not know are skipped.
func ParseStat(content string) (Stat, error) {
	var stat Stat
	err := parseFlatKeyed(content, map[string]*uint64{
		"nr_descendants":       &stat.NrDescendants,
		"nr_dying_descendants": &stat.NrDyingDescendants,
	})
	return stat, err
}

// CPUStat holds the always-present fields of cpu.stat, in microseconds.
type CPUStat struct {
	UsageUsec  uint64
	UserUsec   uint64
	SystemUsec uint64
}

func ParseCPUStat(content string) (CPUStat, error) {
	var stat CPUStat
	err := parseFlatKeyed(content, map[string]*uint64{
		"usage_usec":  &stat.UsageUsec,
		"user_usec":   &stat.UserUsec,
		"system_usec": &stat.SystemUsec,
	})
	return stat, err
}

// parseFlatKeyed fills targets from a flat keyed file. A recognised key with a
// missing or malformed value fails the whole parse.
func parseFlatKeyed(content string, targets map[string]*uint64) error {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		target, ok := targets[fields[0]]
		if !ok {
			continue
		}

		if len(fields) != 2 {
			return errors.NewParseError("malformed keyed line", nil).WithContext("line", line)
		}

		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return errors.NewParseError("invalid counter value", err).WithContext("line", line)
		}
		*target = value
	}
	return nil
}
