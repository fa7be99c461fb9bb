package cluster

import "math"

// tree is the dendrogram of a merge list with each node spanning a contiguous
// range of a reference leaf sequence, so subtree membership is a range check.
type tree struct {
	n      int
	left   []int
	right  []int
	lo, hi []int
	seq    []int
	pos    []int
}

func newTree(n int, merges []Merge) *tree {
	total := n + len(merges)
	t := &tree{
		n:     n,
		left:  make([]int, total),
		right: make([]int, total),
		lo:    make([]int, total),
		hi:    make([]int, total),
		pos:   make([]int, n),
	}
	for i := 0; i < n; i++ {
		t.left[i], t.right[i] = -1, -1
	}
	for k, m := range merges {
		t.left[n+k], t.right[n+k] = m.Left, m.Right
	}
	t.number(total - 1)
	return t
}

// number lays out leaves depth-first and records each node's range.
func (t *tree) number(root int) {
	type frame struct {
		node    int
		visited bool
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node < t.n {
			t.pos[f.node] = len(t.seq)
			t.lo[f.node] = len(t.seq)
			t.seq = append(t.seq, f.node)
			t.hi[f.node] = len(t.seq)
			continue
		}
		if f.visited {
			t.lo[f.node] = t.lo[t.left[f.node]]
			t.hi[f.node] = t.hi[t.right[f.node]]
			continue
		}
		stack = append(stack, frame{node: f.node, visited: true}, frame{node: t.right[f.node]}, frame{node: t.left[f.node]})
	}
}

func (t *tree) leaves(node int) []int {
	return t.seq[t.lo[node]:t.hi[node]]
}

func (t *tree) contains(node, leaf int) bool {
	p := t.pos[leaf]
	return p >= t.lo[node] && p < t.hi[node]
}

// outer returns the leaves of node's child that does not contain leaf, or
// the leaf itself when node is a leaf. These are the candidates for the far
// end of an ordering of node's subtree that starts at leaf.
func (t *tree) outer(node, leaf int) []int {
	if node < t.n {
		return t.seq[t.pos[leaf] : t.pos[leaf]+1]
	}
	if t.contains(t.left[node], leaf) {
		return t.leaves(t.right[node])
	}
	return t.leaves(t.left[node])
}

// OptimalLeafOrder returns the leaf permutation consistent with the
// dendrogram that minimises the sum of distances between adjacent leaves
// (Bar-Joseph et al. 2001). Each leaf pair has a unique lowest common
// ancestor, so the per-node cost tables share one n x n matrix.
func OptimalLeafOrder(dist [][]float64, merges []Merge) []int {
	n := len(dist)
	if n == 0 {
		return nil
	}
	if n == 1 || len(merges) != n-1 {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}

	t := newTree(n, merges)

	cost := make([][]float64, n)
	// via[i][j] holds the two leaves adjacent across the split at LCA(i, j)
	// on an optimal i..j ordering: first on i's side, then on j's side.
	via := make([][][2]int, n)
	for i := 0; i < n; i++ {
		cost[i] = make([]float64, n)
		via[i] = make([][2]int, n)
	}

	bestTo := make([]float64, n)
	bestFrom := make([]int, n)

	for k := range merges {
		v := n + k
		w, x := t.left[v], t.right[v]
		lx := t.leaves(x)

		for _, i := range t.leaves(w) {
			ow := t.outer(w, i)
			// bestTo[m]: cheapest ordering of w from i ending next to m.
			for _, m := range lx {
				bestTo[m], bestFrom[m] = math.Inf(1), ow[0]
				for _, kk := range ow {
					if c := cost[i][kk] + dist[kk][m]; c < bestTo[m] {
						bestTo[m], bestFrom[m] = c, kk
					}
				}
			}

			for _, j := range lx {
				best, bestM := math.Inf(1), -1
				for _, m := range t.outer(x, j) {
					if c := bestTo[m] + cost[m][j]; c < best {
						best, bestM = c, m
					}
				}
				if bestM < 0 {
					bestM = t.outer(x, j)[0]
					best = bestTo[bestM] + cost[bestM][j]
				}
				cost[i][j], cost[j][i] = best, best
				via[i][j] = [2]int{bestFrom[bestM], bestM}
				via[j][i] = [2]int{bestM, bestFrom[bestM]}
			}
		}
	}

	root := n + len(merges) - 1
	bi, bj := -1, -1
	best := math.Inf(1)
	for _, i := range t.leaves(t.left[root]) {
		for _, j := range t.leaves(t.right[root]) {
			if cost[i][j] < best || bi < 0 {
				best, bi, bj = cost[i][j], i, j
			}
		}
	}

	order := make([]int, 0, n)
	var build func(node, from, to int)
	build = func(node, from, to int) {
		if node < n {
			order = append(order, from)
			return
		}
		a, b := via[from][to][0], via[from][to][1]
		near, far := t.left[node], t.right[node]
		if !t.contains(near, from) {
			near, far = far, near
		}
		build(near, from, a)
		build(far, b, to)
	}
	build(root, bi, bj)
	return order
}

// Cost returns the sum of distances between adjacent leaves of an order.
func Cost(dist [][]float64, order []int) float64 {
	var c float64
	for k := 1; k < len(order); k++ {
		c += dist[order[k-1]][order[k]]
	}
	return c
}
