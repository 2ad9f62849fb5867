package track

import "math"

// ForbiddenCost marks a detection/track pair the assigner must never select,
// either because it failed the gate or because the pair does not exist.
const ForbiddenCost = 1e18

// Assigner maps detections to tracks given a cost matrix. cost[i][j] is the
// association cost between detection i and track j; entries ≥ ForbiddenCost
// are excluded. The result is indexed by detection: the chosen track column,
// or -1 when unassigned.
type Assigner interface {
	Assign(cost [][]float64) []int
}

// HungarianAssigner solves the assignment globally with the Kuhn–Munkres
// algorithm (Jonker–Volgenant potentials variant, O(n³)). Each track receives
// at most one detection, which prevents two detections collapsing onto the
// same track.
type HungarianAssigner struct{}

func (HungarianAssigner) Assign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if m == 0 {
		result := make([]int, n)
		for i := range result {
			result[i] = -1
		}
		return result
	}

	// Pad to a square matrix so excess rows stay unassigned.
	dim := n
	if m > dim {
		dim = m
	}
	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = ForbiddenCost
			}
		}
	}

	// Kuhn-Munkres with potentials. 1-indexed arrays internally for cleaner
	// index arithmetic.
	const inf = math.MaxFloat64 / 2

	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)   // p[j] = row assigned to column j
	way := make([]int, dim+1) // way[j] = previous column in augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		// Augment along the path.
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 && p[j] <= dim {
			rowAssign[p[j]-1] = j - 1
		}
	}

	result := make([]int, n)
	for i := 0; i < n; i++ {
		col := rowAssign[i]
		if col < 0 || col >= m || cost[i][col] >= ForbiddenCost {
			result[i] = -1
		} else {
			result[i] = col
		}
	}
	return result
}

// GreedyAssigner picks each detection's nearest track independently, with no
// exclusivity: two detections may both select the same track. This is the
// historical behavior some tunings depend on; HungarianAssigner is the
// default.
type GreedyAssigner struct{}

func (GreedyAssigner) Assign(cost [][]float64) []int {
	result := make([]int, len(cost))
	for i, row := range cost {
		best := -1
		bestCost := ForbiddenCost
		for j, c := range row {
			if c < bestCost {
				bestCost = c
				best = j
			}
		}
		result[i] = best
	}
	return result
}
