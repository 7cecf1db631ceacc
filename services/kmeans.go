package services

import "sort"

// kmeans1D clusters scalar values into at most k clusters. Centroids are
// seeded at equal quantiles of the sorted input, which keeps the result
// deterministic. Returns centroids sorted descending.
func kmeans1D(values []float64, k, maxIters int) []float64 {
	if len(values) == 0 || k <= 0 {
		return nil
	}
	if k > len(values) {
		k = len(values)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	// Quantile seeding
	centroids := make([]float64, k)
	for i := 0; i < k; i++ {
		pos := (len(sorted) - 1) * (2*i + 1) / (2 * k)
		centroids[i] = sorted[pos]
	}

	assign := make([]int, len(values))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, v := range values {
			best := 0
			bestDist := dist1D(v, centroids[0])
			for c := 1; c < k; c++ {
				if d := dist1D(v, centroids[c]); d < bestDist {
					best = c
					bestDist = d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sums := make([]float64, k)
		counts := make([]int, k)
		for i, v := range values {
			sums[assign[i]] += v
			counts[assign[i]]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				centroids[c] = sums[c] / float64(counts[c])
			}
		}

		if !changed {
			break
		}
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(centroids)))
	return centroids
}

func dist1D(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// median of values; input is not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// percentile returns the p-th percentile (0..100) by nearest-rank.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(p / 100 * float64(len(sorted)-1))
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
