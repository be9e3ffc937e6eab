package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_Qualifier(t *testing.T) {
	tests := []struct {
		name string
		gate Gate
		want string
	}{
		{"unbounded", AtLeast(1000, ""), "stars:>=1000"},
		{"closed range", Bounded(100, 999, ""), "stars:100..999"},
		{"exact", Bounded(0, 0, ""), "stars:0"},
		{"small range", Bounded(1, 9, ""), "stars:1..9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.gate.Qualifier())
		})
	}
}

func TestQuery_String(t *testing.T) {
	q := Query{Pattern: "openapi.json", Gate: Bounded(100, 999, "100-999")}
	assert.Equal(t, "filename:openapi.json stars:100..999", q.String())
}

func TestValidateGates(t *testing.T) {
	tests := []struct {
		name    string
		gates   []Gate
		wantErr bool
	}{
		{"defaults", DefaultGates(), false},
		{"single unbounded", []Gate{AtLeast(0, "all")}, false},
		{"unordered", []Gate{Bounded(0, 9, ""), AtLeast(100, ""), Bounded(10, 99, "")}, false},
		{"empty", nil, true},
		{"gap", []Gate{AtLeast(100, ""), Bounded(0, 9, "")}, true},
		{"overlap", []Gate{AtLeast(50, ""), Bounded(0, 60, "")}, true},
		{"not from zero", []Gate{AtLeast(10, ""), Bounded(1, 9, "")}, true},
		{"no unbounded top", []Gate{Bounded(0, 9, ""), Bounded(10, 99, "")}, true},
		{"two unbounded", []Gate{Bounded(0, 9, ""), AtLeast(10, ""), AtLeast(10, "")}, true},
		{"inverted", []Gate{Bounded(0, 9, ""), Bounded(20, 10, ""), AtLeast(21, "")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGates(tt.gates)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGates)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPartition_SkipsGatesBelowMinScore(t *testing.T) {
	queries := Partition([]string{"openapi.json", "swagger.yaml"}, DefaultGates(), 50)

	require.Len(t, queries, 6)
	want := []string{
		"filename:openapi.json stars:>=1000",
		"filename:openapi.json stars:100..999",
		"filename:openapi.json stars:10..99",
		"filename:swagger.yaml stars:>=1000",
		"filename:swagger.yaml stars:100..999",
		"filename:swagger.yaml stars:10..99",
	}
	for i, q := range queries {
		assert.Equal(t, want[i], q.String())
	}
}

func TestPartition_CoversThreshold(t *testing.T) {
	gates := DefaultGates()
	require.NoError(t, ValidateGates(gates))

	for _, threshold := range []int{0, 1, 5, 9, 10, 50, 99, 100, 500, 999, 1000, 25000} {
		queries := Partition([]string{"openapi.json"}, gates, threshold)
		require.NotEmpty(t, queries)

		// Every score in [threshold, threshold+2000] lands in exactly one emitted gate.
		for score := threshold; score <= threshold+2000; score++ {
			hits := 0
			for _, q := range queries {
				if q.Gate.Contains(score) {
					hits++
				}
			}
			if !assert.Equal(t, 1, hits, "threshold %d score %d", threshold, score) {
				return
			}
		}

		last := queries[0].Gate
		assert.True(t, last.Unbounded(), "highest gate must stay open-ended")
	}
}

func TestPartition_EmptyPatterns(t *testing.T) {
	assert.Empty(t, Partition(nil, DefaultGates(), 0))
}
