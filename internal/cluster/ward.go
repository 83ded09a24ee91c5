package cluster

import "math"

// merge records a single merge step in the dendrogram.
type merge struct {
	a, b     int     // merged clusters: ids below n are points, n+k is the k-th merge
	distance float64 // Euclidean merge height
	size     int     // size of the new cluster
}

// squaredDistances returns the full matrix of squared Euclidean distances.
func squaredDistances(points [][]float64) [][]float64 {
	n := len(points)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var s float64
			for k := range points[i] {
				diff := points[i][k] - points[j][k]
				s += diff * diff
			}
			d[i][j], d[j][i] = s, s
		}
	}
	return d
}

// wardLinkage performs Ward's agglomerative clustering with the
// Lance-Williams update on squared distances. The merged cluster reuses the
// row of its first member. It returns the n-1 merges in order.
func wardLinkage(points [][]float64) []merge {
	n := len(points)
	if n < 2 {
		return nil
	}
	d := squaredDistances(points)
	id := make([]int, n)
	size := make([]int, n)
	alive := make([]bool, n)
	for i := range id {
		id[i], size[i], alive[i] = i, 1, true
	}

	merges := make([]merge, 0, n-1)
	for step := 0; step < n-1; step++ {
		best := math.Inf(1)
		bi, bj := -1, -1
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if alive[j] && d[i][j] < best {
					best, bi, bj = d[i][j], i, j
				}
			}
		}

		ni, nj := float64(size[bi]), float64(size[bj])
		for k := 0; k < n; k++ {
			if !alive[k] || k == bi || k == bj {
				continue
			}
			nk := float64(size[k])
			v := ((nk+ni)*d[bi][k] + (nk+nj)*d[bj][k] - nk*best) / (nk + ni + nj)
			if v < 0 {
				v = 0
			}
			d[bi][k], d[k][bi] = v, v
		}

		merges = append(merges, merge{
			a:        id[bi],
			b:        id[bj],
			distance: math.Sqrt(best),
			size:     size[bi] + size[bj],
		})
		id[bi] = n + step
		size[bi] += size[bj]
		alive[bj] = false
	}
	return merges
}

// cutDendrogram labels the n points by applying every merge at or below
// threshold. Labels are numbered from 0 in order of first appearance.
func cutDendrogram(merges []merge, n int, threshold float64) []int {
	parent := make([]int, n+len(merges))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	// Ward heights never decrease, so the first merge above the threshold
	// ends the cut.
	for step, m := range merges {
		if m.distance > threshold {
			break
		}
		parent[find(m.a)] = n + step
		parent[find(m.b)] = n + step
	}

	labels := make([]int, n)
	seen := make(map[int]int)
	for i := range labels {
		root := find(i)
		l, ok := seen[root]
		if !ok {
			l = len(seen)
			seen[root] = l
		}
		labels[i] = l
	}
	return labels
}
