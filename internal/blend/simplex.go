package blend

import (
	"errors"
	"math"
)

// Dense two-phase simplex over the standard form min c·x, x >= 0, with
// <= / >= row constraints. Bland's rule keeps pivoting deterministic and
// cycle-free; blend problems are tiny (tens of products, a handful of
// rows), so a dense tableau is the right tool.

type conOp int

const (
	conLE conOp = iota
	conGE
)

type constraint struct {
	coeffs []float64
	op     conOp
	rhs    float64
}

var (
	errInfeasible = errors.New("lp infeasible")
	errUnbounded  = errors.New("lp unbounded")
	errIterLimit  = errors.New("lp iteration limit exceeded")
)

type tableau struct {
	a     [][]float64
	b     []float64
	basis []int
	ncols int
}

// solveLP minimizes c·x subject to cons and x >= 0. It returns the optimal
// point and objective value, or errInfeasible / errUnbounded / errIterLimit.
func solveLP(c []float64, cons []constraint, maxIters int, eps float64) ([]float64, float64, error) {
	n := len(c)
	m := len(cons)

	if n == 0 {
		for _, con := range cons {
			if con.op == conGE && con.rhs > eps {
				return nil, 0, errInfeasible
			}
			if con.op == conLE && con.rhs < -eps {
				return nil, 0, errInfeasible
			}
		}
		return []float64{}, 0, nil
	}

	// Normalize rows to non-negative rhs so slack columns form a valid
	// starting basis for <= rows.
	type row struct {
		coeffs []float64
		rhs    float64
		op     conOp
	}
	rows := make([]row, m)
	numArt := 0
	for i, con := range cons {
		coeffs := append([]float64(nil), con.coeffs...)
		rhs := con.rhs
		op := con.op
		if rhs < 0 {
			for j := range coeffs {
				coeffs[j] = -coeffs[j]
			}
			rhs = -rhs
			if op == conLE {
				op = conGE
			} else {
				op = conLE
			}
		}
		rows[i] = row{coeffs: coeffs, rhs: rhs, op: op}
		if op == conGE {
			numArt++
		}
	}

	artStart := n + m
	ncols := artStart + numArt

	t := &tableau{
		a:     make([][]float64, m),
		b:     make([]float64, m),
		basis: make([]int, m),
		ncols: ncols,
	}

	artCol := artStart
	for i, r := range rows {
		t.a[i] = make([]float64, ncols)
		copy(t.a[i], r.coeffs)
		t.b[i] = r.rhs
		if r.op == conLE {
			t.a[i][n+i] = 1
			t.basis[i] = n + i
		} else {
			t.a[i][n+i] = -1
			t.a[i][artCol] = 1
			t.basis[i] = artCol
			artCol++
		}
	}

	if numArt > 0 {
		// Phase 1: minimize the sum of artificials, cost row reduced
		// against the artificial starting basis.
		cost1 := make([]float64, ncols)
		for j := 0; j < ncols; j++ {
			v := 0.0
			if j >= artStart {
				v = 1
			}
			s := 0.0
			for i, bi := range t.basis {
				if bi >= artStart {
					s += t.a[i][j]
				}
			}
			cost1[j] = v - s
		}

		if err := t.iterate(cost1, maxIters, eps, func(int) bool { return true }); err != nil {
			if err == errUnbounded {
				// Phase 1 is bounded below by zero; treat as a numeric
				// breakdown rather than a real ray.
				return nil, 0, errIterLimit
			}
			return nil, 0, err
		}

		residual := 0.0
		for i, bi := range t.basis {
			if bi >= artStart {
				residual += t.b[i]
			}
		}
		if residual > eps*100 {
			return nil, 0, errInfeasible
		}

		// Drive leftover zero-valued artificials out of the basis so
		// phase 2 never reactivates them. An all-zero row is redundant
		// and harmless to leave.
		for i, bi := range t.basis {
			if bi < artStart {
				continue
			}
			for j := 0; j < artStart; j++ {
				if math.Abs(t.a[i][j]) > eps {
					t.pivot(i, j, nil)
					break
				}
			}
		}
	}

	// Phase 2: reduce the real cost row against the current basis.
	cPad := make([]float64, ncols)
	copy(cPad, c)
	cost2 := make([]float64, ncols)
	for j := 0; j < ncols; j++ {
		s := 0.0
		for i, bi := range t.basis {
			s += cPad[bi] * t.a[i][j]
		}
		cost2[j] = cPad[j] - s
	}

	if err := t.iterate(cost2, maxIters, eps, func(j int) bool { return j < artStart }); err != nil {
		return nil, 0, err
	}

	x := make([]float64, n)
	for i, bi := range t.basis {
		if bi < n {
			x[bi] = t.b[i]
		}
	}
	obj := 0.0
	for j := 0; j < n; j++ {
		if x[j] < 0 && x[j] > -eps*100 {
			x[j] = 0 // roundoff
		}
		obj += c[j] * x[j]
	}
	return x, obj, nil
}

// iterate runs simplex pivots until optimal, unbounded, or the iteration
// budget runs out. Entering and leaving variables follow Bland's rule.
func (t *tableau) iterate(cost []float64, maxIters int, eps float64, allowed func(int) bool) error {
	for iter := 0; iter < maxIters; iter++ {
		enter := -1
		for j := 0; j < t.ncols; j++ {
			if allowed(j) && cost[j] < -eps {
				enter = j
				break
			}
		}
		if enter < 0 {
			return nil
		}

		leave := -1
		best := math.Inf(1)
		for i := range t.a {
			if t.a[i][enter] <= eps {
				continue
			}
			ratio := t.b[i] / t.a[i][enter]
			switch {
			case ratio < best-eps:
				best = ratio
				leave = i
			case ratio <= best+eps && leave >= 0 && t.basis[i] < t.basis[leave]:
				leave = i
			}
		}
		if leave < 0 {
			return errUnbounded
		}

		t.pivot(leave, enter, cost)
	}
	return errIterLimit
}

// pivot makes column col basic in row r, updating the cost row when given.
func (t *tableau) pivot(r, col int, cost []float64) {
	inv := 1 / t.a[r][col]
	for j := 0; j < t.ncols; j++ {
		t.a[r][j] *= inv
	}
	t.b[r] *= inv
	t.a[r][col] = 1

	for i := range t.a {
		if i == r {
			continue
		}
		f := t.a[i][col]
		if f == 0 {
			continue
		}
		for j := 0; j < t.ncols; j++ {
			t.a[i][j] -= f * t.a[r][j]
		}
		t.a[i][col] = 0
		t.b[i] -= f * t.b[r]
	}

	if cost != nil {
		if f := cost[col]; f != 0 {
			for j := 0; j < t.ncols; j++ {
				cost[j] -= f * t.a[r][j]
			}
			cost[col] = 0
		}
	}

	t.basis[r] = col
}
