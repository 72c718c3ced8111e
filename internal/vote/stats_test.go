package vote

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pointdeck/pointdeck/internal/models"
)

func TestComputeStatistics(t *testing.T) {
	tests := []struct {
		name      string
		estimates []int
		want      models.VoteStatistics
	}{
		{
			name:      "empty",
			estimates: nil,
			want:      models.VoteStatistics{},
		},
		{
			name:      "single vote",
			estimates: []int{5},
			want:      models.VoteStatistics{Count: 1, Min: 5, Max: 5, Average: 5, Median: 5, Mode: 5},
		},
		{
			name:      "two votes tie broken toward smaller",
			estimates: []int{8, 3},
			want:      models.VoteStatistics{Count: 2, Min: 3, Max: 8, Average: 5.5, Median: 5.5, Mode: 3},
		},
		{
			name:      "clear mode",
			estimates: []int{1, 2, 2, 3, 13},
			want:      models.VoteStatistics{Count: 5, Min: 1, Max: 13, Average: 4.2, Median: 2, Mode: 2},
		},
		{
			name:      "mode tie among several values prefers smallest",
			estimates: []int{13, 13, 5, 5, 8, 8},
			want:      models.VoteStatistics{Count: 6, Min: 5, Max: 13, Average: 8.7, Median: 8, Mode: 5},
		},
		{
			name:      "even count median averages middle pair",
			estimates: []int{1, 2, 3, 5},
			want:      models.VoteStatistics{Count: 4, Min: 1, Max: 5, Average: 2.8, Median: 2.5, Mode: 1},
		},
		{
			name:      "average rounds to one decimal",
			estimates: []int{1, 1, 1},
			want:      models.VoteStatistics{Count: 3, Min: 1, Max: 1, Average: 1, Median: 1, Mode: 1},
		},
		{
			name:      "zero estimates are valid",
			estimates: []int{0, 0, 3},
			want:      models.VoteStatistics{Count: 3, Min: 0, Max: 3, Average: 1, Median: 0, Mode: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStatistics(tt.estimates))
		})
	}
}

func TestComputeStatisticsDoesNotMutateInput(t *testing.T) {
	in := []int{8, 3, 5}
	ComputeStatistics(in)
	assert.Equal(t, []int{8, 3, 5}, in)
}
