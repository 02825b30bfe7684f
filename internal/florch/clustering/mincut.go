package clustering

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

// IBisector splits a similarity graph into two groups of local indices.
// Implementations must be deterministic for a given matrix.
type IBisector interface {
	Bisect(similarities mat.Symmetric) (a, b []int, err error)
}

// StoerWagner computes the exact global minimum weight cut.
type StoerWagner struct{}

// Spectral splits on the sign of the Fiedler vector of the graph Laplacian.
type Spectral struct{}

func NewStoerWagner() *StoerWagner {
	return &StoerWagner{}
}

func NewSpectral() *Spectral {
	return &Spectral{}
}

func (sw *StoerWagner) Bisect(similarities mat.Symmetric) ([]int, []int, error) {
	w, err := edgeWeights(similarities)
	if err != nil {
		return nil, nil, err
	}
	n := len(w)

	groups := make([][]int, n)
	for i := range groups {
		groups[i] = []int{i}
	}
	active := common.Range(n)

	bestCut := math.Inf(1)
	var bestGroup []int

	for len(active) > 1 {
		added := make([]bool, n)
		connectivity := make([]float64, n)
		prev, last := -1, -1

		for range active {
			selected := -1
			for _, v := range active {
				if !added[v] && (selected < 0 || connectivity[v] > connectivity[selected]) {
					selected = v
				}
			}
			added[selected] = true
			prev, last = last, selected
			for _, v := range active {
				if !added[v] {
					connectivity[v] += w[selected][v]
				}
			}
		}

		if connectivity[last] < bestCut {
			bestCut = connectivity[last]
			bestGroup = append([]int(nil), groups[last]...)
		}

		groups[prev] = append(groups[prev], groups[last]...)
		for _, v := range active {
			w[prev][v] += w[last][v]
			w[v][prev] = w[prev][v]
		}
		w[prev][prev] = 0

		remaining := active[:0]
		for _, v := range active {
			if v != last {
				remaining = append(remaining, v)
			}
		}
		active = remaining
	}

	return orient(n, bestGroup)
}

func (s *Spectral) Bisect(similarities mat.Symmetric) ([]int, []int, error) {
	w, err := edgeWeights(similarities)
	if err != nil {
		return nil, nil, err
	}
	n := len(w)

	laplacian := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		var degree float64
		for j := 0; j < n; j++ {
			if i != j {
				degree += w[i][j]
				laplacian.SetSym(i, j, -w[i][j])
			}
		}
		laplacian.SetSym(i, i, degree)
	}

	var eigen mat.EigenSym
	if ok := eigen.Factorize(laplacian, true); !ok {
		return nil, nil, fmt.Errorf("%w: laplacian eigendecomposition failed", common.ErrNumerical)
	}
	var vectors mat.Dense
	eigen.VectorsTo(&vectors)

	// eigenvalues are ascending, the second column is the Fiedler vector
	fiedler := mat.Col(nil, 1, &vectors)
	if fiedler[0] < 0 {
		for i := range fiedler {
			fiedler[i] = -fiedler[i]
		}
	}

	var group []int
	for i, v := range fiedler {
		if v >= 0 {
			group = append(group, i)
		}
	}
	return orient(n, group)
}

// CutWeight sums the similarities crossing between a and b.
func CutWeight(similarities mat.Symmetric, a, b []int) float64 {
	var sum float64
	for _, i := range a {
		for _, j := range b {
			sum += math.Max(similarities.At(i, j), 0)
		}
	}
	return sum
}

// edgeWeights copies the matrix into a dense weight table with an empty
// diagonal and negative similarities clamped to zero.
func edgeWeights(similarities mat.Symmetric) ([][]float64, error) {
	n := similarities.SymmetricDim()
	if n < 2 {
		return nil, fmt.Errorf("%w: cannot bisect %d clients", common.ErrDegenerateSplit, n)
	}

	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			v := similarities.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: similarity of %d and %d is %v", common.ErrNumerical, i, j, v)
			}
			w[i][j] = math.Max(v, 0)
		}
	}
	return w, nil
}

// orient returns group and its complement, the side holding index 0 first.
func orient(n int, group []int) ([]int, []int, error) {
	in := make([]bool, n)
	for _, i := range group {
		in[i] = true
	}

	var a, b []int
	for i := 0; i < n; i++ {
		if in[i] == in[0] {
			a = append(a, i)
		} else {
			b = append(b, i)
		}
	}
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("%w: one side of the cut is empty", common.ErrDegenerateSplit)
	}
	sort.Ints(a)
	sort.Ints(b)
	return a, b, nil
}

// ToClients maps local matrix indices back to the cluster's client indices.
func ToClients(members, local []int) []int {
	clients := make([]int, len(local))
	for i, l := range local {
		clients[i] = members[l]
	}
	return clients
}
