package metrics

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestRecallAtK(t *testing.T) {
	tests := map[string]struct {
		returned []string
		expected []string
		k        int
		want     float64
	}{
		"superset": {
			returned: []string{"a", "b", "c", "d", "e"},
			expected: []string{"a", "c", "e"},
			k:        5,
			want:     1.0,
		},
		"truncated": {
			returned: []string{"a", "b", "c", "d", "e"},
			expected: []string{"a", "c", "e"},
			k:        3,
			want:     2.0 / 3.0,
		},
		"no ground truth": {
			returned: []string{"a"},
			k:        3,
			want:     0,
		},
		"no overlap": {
			returned: []string{"x", "y"},
			expected: []string{"a", "b"},
			k:        2,
			want:     0,
		},
		"duplicates count once": {
			returned: []string{"a", "a"},
			expected: []string{"a", "b"},
			k:        2,
			want:     0.5,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, tc.want, RecallAtK(tc.returned, tc.expected, tc.k), 1e-9)
		})
	}
}

func TestRecallRangeProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	ids := gen.SliceOf(gen.IntRange(0, 5).Map(func(i int) string {
		return string(rune('a' + i))
	}))

	properties.Property("0 <= recall <= 1", prop.ForAll(
		func(returned, expected []string, k int) bool {
			r := RecallAtK(returned, expected, k)
			return r >= 0 && r <= 1
		},
		ids, ids, gen.IntRange(-1, 10),
	))

	properties.TestingRun(t)
}
