package vote

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/pointdeck/pointdeck/internal/models"
)

// ComputeStatistics summarizes a task's estimates. An empty input yields the
// zero value.
//
// Mode ties are broken toward the smaller point value. This is a deliberate,
// documented rule: picking by insertion order would make revealed statistics
// depend on the order votes happened to arrive.
func ComputeStatistics(estimates []int) models.VoteStatistics {
	if len(estimates) == 0 {
		return models.VoteStatistics{}
	}

	sorted := make([]int, len(estimates))
	copy(sorted, estimates)
	sort.Ints(sorted)

	sum := lo.Sum(sorted)
	avg := float64(sum) / float64(len(sorted))

	return models.VoteStatistics{
		Count:   len(sorted),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Average: math.Round(avg*10) / 10,
		Median:  median(sorted),
		Mode:    mode(sorted),
	}
}

func median(sorted []int) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

func mode(sorted []int) int {
	freq := lo.CountValues(sorted)
	best := sorted[0]
	bestCount := 0
	// sorted scan keeps the smaller value on frequency ties
	for _, e := range sorted {
		if freq[e] > bestCount {
			best = e
			bestCount = freq[e]
		}
	}
	return best
}
