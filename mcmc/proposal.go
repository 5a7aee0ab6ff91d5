package mcmc

import (
	"fmt"

	"github.com/gonum/blas"
	"github.com/gonum/blas/blas64"
	"github.com/gonum/matrix/mat64"
)

// Proposal draws candidate parameter vectors from a Gaussian random walk
// shaped by an upper-triangular covariance factor.
type Proposal struct {
	rng Source
}

// NewProposal creates a Proposal drawing from rng.
func NewProposal(rng Source) *Proposal {
	if rng == nil {
		panic("nil random source")
	}
	return &Proposal{rng: rng}
}

// Sample draws u, a vector of len(old) standard normals, and returns the
// candidate old + u*R together with the raw draw. The raw draw is needed by
// adaptive-covariance collaborators and for reproducibility checks.
func (p *Proposal) Sample(old []float64, r *mat64.TriDense) (theta, u []float64) {
	npar := len(old)
	u = make([]float64, npar)
	for i := range u {
		u[i] = p.rng.NormFloat64()
	}
	// u*R as a row vector is R'u.
	step := make([]float64, npar)
	copy(step, u)
	blas64.Trmv(blas.Trans, r.RawTriangular(), blas64.Vector{Inc: 1, Data: step})
	theta = make([]float64, npar)
	for i := range theta {
		theta[i] = old[i] + step[i]
	}
	return theta, u
}

// checkFactor verifies that a proposal factor is square with the expected
// dimension. Called before any random draw is consumed.
func checkFactor(r *mat64.TriDense, npar int) error {
	if r == nil {
		return fmt.Errorf("%w: nil proposal factor", ErrUnsupportedConfiguration)
	}
	return checkDims(r, npar)
}

// checkInverse verifies an inverse proposal factor the same way.
func checkInverse(ir *mat64.Dense, npar int) error {
	if ir == nil {
		return fmt.Errorf("%w: nil inverse proposal factor", ErrUnsupportedConfiguration)
	}
	return checkDims(ir, npar)
}

func checkDims(m mat64.Matrix, npar int) error {
	rows, cols := m.Dims()
	if rows != npar || cols != npar {
		return fmt.Errorf("%w: proposal factor is %dx%d, want %dx%d",
			ErrUnsupportedConfiguration, rows, cols, npar, npar)
	}
	return nil
}
