// Package cluster implements average-linkage hierarchical clustering with
// optimal leaf ordering over dense distance matrices.
package cluster

import "math"

// Merge is one agglomeration step. Left and Right index original observations
// when below n and the cluster formed by merge k when equal to n+k.
type Merge struct {
	Left     int
	Right    int
	Distance float64
	Size     int
}

// AverageLinkage clusters n observations given a symmetric n x n distance
// matrix using UPGMA. Ties are broken towards the lowest slot indices so the
// result is deterministic. It returns n-1 merges in agglomeration order.
func AverageLinkage(dist [][]float64) []Merge {
	n := len(dist)
	if n < 2 {
		return nil
	}

	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		copy(d[i], dist[i])
	}

	active := make([]bool, n)
	clusterID := make([]int, n)
	size := make([]int, n)
	for i := 0; i < n; i++ {
		active[i] = true
		clusterID[i] = i
		size[i] = 1
	}

	merges := make([]Merge, 0, n-1)
	for step := 0; step < n-1; step++ {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && d[i][j] < best {
					best, bi, bj = d[i][j], i, j
				}
			}
		}
		if bi < 0 {
			// Only reachable with NaN distances; merge the first two active slots.
			bi, bj = firstTwo(active)
			best = d[bi][bj]
		}

		left, right := clusterID[bi], clusterID[bj]
		if left > right {
			left, right = right, left
		}
		merged := size[bi] + size[bj]
		merges = append(merges, Merge{Left: left, Right: right, Distance: best, Size: merged})

		for k := 0; k < n; k++ {
			if !active[k] || k == bi || k == bj {
				continue
			}
			v := (float64(size[bi])*d[bi][k] + float64(size[bj])*d[bj][k]) / float64(merged)
			d[bi][k], d[k][bi] = v, v
		}
		active[bj] = false
		clusterID[bi] = n + step
		size[bi] = merged
	}
	return merges
}

func firstTwo(active []bool) (int, int) {
	a := -1
	for i, ok := range active {
		if !ok {
			continue
		}
		if a < 0 {
			a = i
			continue
		}
		return a, i
	}
	return a, a
}
