package slippage

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// scaler standardises features to zero mean and unit variance, fitted on
// training data only.
type scaler struct {
	mean []float64
	std  []float64
}

func fitScaler(X [][]float64) *scaler {
	n := len(X)
	dims := len(X[0])
	s := &scaler{mean: make([]float64, dims), std: make([]float64, dims)}
	for j := 0; j < dims; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += X[i][j]
		}
		s.mean[j] = sum / float64(n)
		var ss float64
		for i := 0; i < n; i++ {
			d := X[i][j] - s.mean[j]
			ss += d * d
		}
		s.std[j] = math.Sqrt(ss / float64(n))
		if s.std[j] == 0 {
			s.std[j] = 1
		}
	}
	return s
}

func (s *scaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.mean[j]) / s.std[j]
	}
	return out
}

func (s *scaler) transformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i := range X {
		out[i] = s.transform(X[i])
	}
	return out
}

// linearModel is ordinary least squares with an intercept, solved via the
// normal equations.
type linearModel struct {
	weights   []float64
	intercept float64
}

func fitLinear(X [][]float64, y []float64) (*linearModel, error) {
	n := len(X)
	dims := len(X[0])
	// Augment with the intercept column.
	k := dims + 1

	// Build X'X and X'y.
	xtx := make([][]float64, k)
	for i := range xtx {
		xtx[i] = make([]float64, k)
	}
	xty := make([]float64, k)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		row[0] = 1
		copy(row[1:], X[i])
		for a := 0; a < k; a++ {
			xty[a] += row[a] * y[i]
			for b := 0; b < k; b++ {
				xtx[a][b] += row[a] * row[b]
			}
		}
	}
	// Small ridge keeps the system solvable on degenerate features.
	for a := 1; a < k; a++ {
		xtx[a][a] += 1e-10
	}

	coef, err := solve(xtx, xty)
	if err != nil {
		return nil, err
	}
	return &linearModel{intercept: coef[0], weights: coef[1:]}, nil
}

func (m *linearModel) predict(x []float64) float64 {
	out := m.intercept
	for j, w := range m.weights {
		out += w * x[j]
	}
	return out
}

// solve performs Gaussian elimination with partial pivoting on a copy of
// the inputs.
func solve(A [][]float64, b []float64) ([]float64, error) {
	n := len(A)
	M := make([][]float64, n)
	for i := range M {
		M[i] = append(append([]float64{}, A[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(M[r][col]) > math.Abs(M[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(M[pivot][col]) < 1e-14 {
			return nil, fmt.Errorf("slippage: singular design matrix: %w", domain.ErrOptimizationFailed)
		}
		M[col], M[pivot] = M[pivot], M[col]
		for r := col + 1; r < n; r++ {
			factor := M[r][col] / M[col][col]
			for c := col; c <= n; c++ {
				M[r][c] -= factor * M[col][c]
			}
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := M[i][n]
		for j := i + 1; j < n; j++ {
			sum -= M[i][j] * x[j]
		}
		x[i] = sum / M[i][i]
	}
	return x, nil
}

const (
	quantileEpochs = 500
	quantileLR     = 0.05
	quantileAlpha  = 0.1 // L2 penalty on weights
)

// quantileModel minimises the pinball loss at a fixed quantile via
// subgradient descent with L2 regularisation.
type quantileModel struct {
	quantile  float64
	weights   []float64
	intercept float64
}

func fitQuantile(X [][]float64, y []float64, quantile float64) *quantileModel {
	n := len(X)
	dims := len(X[0])
	m := &quantileModel{quantile: quantile, weights: make([]float64, dims)}

	for epoch := 0; epoch < quantileEpochs; epoch++ {
		lr := quantileLR / (1 + 0.01*float64(epoch))
		gradW := make([]float64, dims)
		var gradB float64
		for i := 0; i < n; i++ {
			residual := y[i] - m.predict(X[i])
			// Pinball subgradient: -q below the fit, (1-q) above it.
			var g float64
			if residual > 0 {
				g = -quantile
			} else {
				g = 1 - quantile
			}
			gradB += g
			for j := 0; j < dims; j++ {
				gradW[j] += g * X[i][j]
			}
		}
		for j := 0; j < dims; j++ {
			gradW[j] = gradW[j]/float64(n) + quantileAlpha*m.weights[j]
			m.weights[j] -= lr * gradW[j]
		}
		m.intercept -= lr * gradB / float64(n)
	}
	return m
}

func (m *quantileModel) predict(x []float64) float64 {
	out := m.intercept
	for j, w := range m.weights {
		out += w * x[j]
	}
	return out
}

func logReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
