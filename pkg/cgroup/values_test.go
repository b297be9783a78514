package cgroup

import (
	"math"
	"testing"

	"github.com/izoli/izoli/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLimitValue_RoundTrip64(t *testing.T) {
	values := []LimitValue[uint64]{
		Max[uint64](),
		Value[uint64](0),
		Value[uint64](1),
		Value[uint64](1 << 32),
		Value[uint64](math.MaxUint64),
	}

	for _, v := range values {
		t.Run(v.String(), func(t *testing.T) {
			parsed, err := ParseLimitValue[uint64](v.String())
			require.NoError(t, err)
			assert.Equal(t, v, parsed)
		})
	}
}

func TestLimitValue_RoundTrip32(t *testing.T) {
	for _, v := range []LimitValue[uint32]{Max[uint32](), Value[uint32](0), Value[uint32](math.MaxUint32)} {
		parsed, err := ParseLimitValue[uint32](v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}
}

func TestParseLimitValue(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    LimitValue[uint32]
		wantErr bool
	}{
		{"max", "max", Max[uint32](), false},
		{"max_with_newline", "max\n", Max[uint32](), false},
		{"number", "1048576\n", Value[uint32](1048576), false},
		{"out_of_range_for_width", "4294967296", LimitValue[uint32]{}, true},
		{"negative", "-1", LimitValue[uint32]{}, true},
		{"garbage", "unlimited", LimitValue[uint32]{}, true},
		{"empty", "", LimitValue[uint32]{}, true},
		{"uppercase_max", "MAX", LimitValue[uint32]{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLimitValue[uint32](tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsParseError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLimitValue_Accessors(t *testing.T) {
	v, ok := Value[uint64](42).Get()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), v)

	_, ok = Max[uint64]().Get()
	assert.False(t, ok)
	assert.True(t, Max[uint64]().IsMax())
	assert.False(t, LimitValue[uint64]{}.IsMax())
}

func TestController_RoundTrip(t *testing.T) {
	for _, name := range []string{"cpu", "cpuset", "memory", "io", "hugetlb", "misc", "pids", "rdma"} {
		t.Run(name, func(t *testing.T) {
			controller, err := ParseController(name)
			require.NoError(t, err)
			assert.NotEqual(t, ControllerUnknown, controller)
			assert.Equal(t, name, controller.String())
		})
	}
}

func TestParseController_StrictRejectsUnknown(t *testing.T) {
	controller, err := ParseController("freezer")
	require.Error(t, err)
	assert.True(t, errors.IsParseError(err))
	assert.Equal(t, ControllerUnknown, controller)
}

func TestKnownControllers_AllNamed(t *testing.T) {
	assert.Len(t, KnownControllers(), len(controllerNames))
	for _, c := range KnownControllers() {
		assert.NotEqual(t, "unknown", c.String())
	}
}

func TestCpuLimit(t *testing.T) {
	limit, err := ParseCpuLimit("max 100000")
	require.NoError(t, err)
	assert.Equal(t, CpuLimit{Max: Max[uint64](), Period: 100000}, limit)
	assert.Equal(t, "max 100000", limit.String())

	limit, err = ParseCpuLimit("50000 100000\n")
	require.NoError(t, err)
	assert.Equal(t, CpuLimit{Max: Value[uint64](50000), Period: DefaultCpuPeriod}, limit)
	assert.Equal(t, "50000 100000", limit.String())
}

func TestParseCpuLimit_Errors(t *testing.T) {
	for _, input := range []string{"", "max", "max 100000 7", "half 100000", "max forever"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseCpuLimit(input)
			require.Error(t, err)
			assert.True(t, errors.IsParseError(err))
		})
	}
}

func TestParseStat(t *testing.T) {
	stat, err := ParseStat("nr_descendants 3\nnr_dying_descendants 1\n")
	require.NoError(t, err)
	assert.Equal(t, Stat{NrDescendants: 3, NrDyingDescendants: 1}, stat)

	stat, err = ParseStat("nr_descendants 3\nnr_subsys_cpu 9\nnr_dying_descendants 1\n")
	require.NoError(t, err)
	assert.Equal(t, Stat{NrDescendants: 3, NrDyingDescendants: 1}, stat)

	_, err = ParseStat("nr_descendants lots\n")
	assert.True(t, errors.IsParseError(err))

	_, err = ParseStat("nr_descendants\n")
	assert.True(t, errors.IsParseError(err))
}

func TestParseCPUStat(t *testing.T) {
	stat, err := ParseCPUStat("usage_usec 1200\nuser_usec 1000\nsystem_usec 200\nnr_periods 0\nnr_throttled 0\n")
	require.NoError(t, err)
	assert.Equal(t, CPUStat{UsageUsec: 1200, UserUsec: 1000, SystemUsec: 200}, stat)
}

func TestOption_YAML(t *testing.T) {
	input := `
cpu_max: "max 100000"
memory_max: 1048576
pids_max: max
cpus: "0-1"
`
	var option Option
	require.NoError(t, yaml.Unmarshal([]byte(input), &option))

	require.NotNil(t, option.CpuMax)
	assert.Equal(t, CpuLimit{Max: Max[uint64](), Period: 100000}, *option.CpuMax)
	require.NotNil(t, option.MemoryMax)
	assert.Equal(t, Value[uint64](1048576), *option.MemoryMax)
	require.NotNil(t, option.PidsMax)
	assert.True(t, option.PidsMax.IsMax())
	assert.Equal(t, "0-1", option.Cpus)
	assert.False(t, option.IsEmpty())

	out, err := yaml.Marshal(option)
	require.NoError(t, err)
	assert.Contains(t, string(out), "cpu_max: max 100000")
	assert.Contains(t, string(out), "pids_max: max")
}

func TestOption_IsEmpty(t *testing.T) {
	var nilOption *Option
	assert.True(t, nilOption.IsEmpty())
	assert.True(t, (&Option{}).IsEmpty())
}
