package heuristics

import (
	"math"

	"vectra/internal/geo"
)

const (
	labelUnvisited = -2
	labelNoise     = -1
)

// dbscan labels points (radians) with cluster ids starting at 0, or
// labelNoise. The neighbourhood of a point includes the point itself and
// uses an inclusive eps bound on the haversine central angle.
func dbscan(lat, lon []float64, eps float64, minSamples int) []int {
	n := len(lat)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = labelUnvisited
	}

	region := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if geo.HaversineRadians(lat[i], lon[i], lat[j], lon[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}
		neighbours := region(i)
		if len(neighbours) < minSamples {
			labels[i] = labelNoise
			continue
		}
		labels[i] = cluster
		queue := append([]int(nil), neighbours...)
		for k := 0; k < len(queue); k++ {
			j := queue[k]
			if labels[j] == labelNoise {
				// border point
				labels[j] = cluster
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = cluster
			if next := region(j); len(next) >= minSamples {
				queue = append(queue, next...)
			}
		}
		cluster++
	}
	return labels
}

// largestCluster returns the label with most members; ties go to the lower
// label. ok is false when every point is noise.
func largestCluster(labels []int) (label int, size int, ok bool) {
	counts := map[int]int{}
	for _, l := range labels {
		if l >= 0 {
			counts[l]++
		}
	}
	label = math.MaxInt
	for l, c := range counts {
		if c > size || (c == size && l < label) {
			label, size = l, c
		}
	}
	return label, size, size > 0
}
