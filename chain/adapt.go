package chain

import (
	"fmt"
	"math"

	"github.com/gonum/matrix"
	"github.com/gonum/matrix/mat64"
)

// adaptation maintains the running chain mean and covariance and the
// Cholesky factors of the proposal covariance for every delayed-rejection
// stage. Stage k uses the base factor divided by drScale^k.
type adaptation struct {
	npar    int
	ntry    int
	drScale float64
	eps     float64

	n    float64
	mean []float64
	cov  *mat64.SymDense

	qcov *mat64.SymDense
	r    []*mat64.TriDense
	inv  []*mat64.Dense
}

// covarianceEpsilon is the ridge added to the scaled chain covariance so
// the factorization survives degenerate directions.
const covarianceEpsilon = 1e-10

func newAdaptation(qcov *mat64.SymDense, ntry int, drScale float64) (*adaptation, error) {
	npar, _ := qcov.Dims()
	a := &adaptation{
		npar:    npar,
		ntry:    ntry,
		drScale: drScale,
		eps:     covarianceEpsilon,
		mean:    make([]float64, npar),
		cov:     mat64.NewSymDense(npar, nil),
		qcov:    mat64.NewSymDense(npar, nil),
	}
	a.qcov.CopySym(qcov)
	if err := a.factorize(); err != nil {
		return nil, err
	}
	return a, nil
}

// Factors returns the per-stage proposal factors, first the plain
// Metropolis factor, then one shrunk factor per extra trial.
func (a *adaptation) Factors() []*mat64.TriDense {
	return a.r
}

// Inverses returns the per-stage inverse factors.
func (a *adaptation) Inverses() []*mat64.Dense {
	return a.inv
}

// Qcov returns a copy of the current proposal covariance, row-major.
func (a *adaptation) Qcov() []float64 {
	out := make([]float64, a.npar*a.npar)
	for i := 0; i < a.npar; i++ {
		for j := 0; j < a.npar; j++ {
			out[i*a.npar+j] = a.qcov.At(i, j)
		}
	}
	return out
}

// SetQcov replaces the proposal covariance (e.g. from a checkpoint) and
// refactorizes.
func (a *adaptation) SetQcov(data []float64) error {
	if len(data) != a.npar*a.npar {
		return fmt.Errorf("covariance size %d doesn't match %d parameters", len(data), a.npar)
	}
	for i := 0; i < a.npar; i++ {
		for j := i; j < a.npar; j++ {
			a.qcov.SetSym(i, j, data[i*a.npar+j])
		}
	}
	return a.factorize()
}

// Push feeds the chain state of one iteration into the running mean and
// covariance (recursive update, no history kept).
func (a *adaptation) Push(theta []float64) {
	a.n++
	if a.n == 1 {
		copy(a.mean, theta)
		return
	}
	for i := 0; i < a.npar; i++ {
		for j := i; j < a.npar; j++ {
			c := a.cov.At(i, j)
			c = (a.n-2)/(a.n-1)*c + (theta[i]-a.mean[i])*(theta[j]-a.mean[j])/a.n
			a.cov.SetSym(i, j, c)
		}
	}
	for i := range a.mean {
		a.mean[i] += (theta[i] - a.mean[i]) / a.n
	}
}

// Update replaces the proposal covariance with the scaled chain covariance
// (Haario scaling 2.4^2/npar plus a small ridge). A covariance that cannot
// be factorized keeps the previous factor.
func (a *adaptation) Update() {
	if a.n < 2 {
		return
	}
	sd := 2.4 * 2.4 / float64(a.npar)
	next := mat64.NewSymDense(a.npar, nil)
	for i := 0; i < a.npar; i++ {
		for j := i; j < a.npar; j++ {
			v := sd * a.cov.At(i, j)
			if i == j {
				v += sd * a.eps
			}
			next.SetSym(i, j, v)
		}
	}
	prev := a.qcov
	a.qcov = next
	if err := a.factorize(); err != nil {
		log.Warningf("Adapted covariance is not usable, keeping the previous one: %v", err)
		a.qcov = prev
		return
	}
	log.Debugf("Proposal covariance adapted after %v samples", a.n)
}

// factorize rebuilds the per-stage factors and inverses from qcov.
func (a *adaptation) factorize() error {
	var chol mat64.Cholesky
	if ok := chol.Factorize(a.qcov); !ok {
		return fmt.Errorf("proposal covariance is not positive definite")
	}
	base := mat64.NewTriDense(a.npar, matrix.Upper, nil)
	base.UFromCholesky(&chol)

	r := make([]*mat64.TriDense, a.ntry)
	inv := make([]*mat64.Dense, a.ntry)
	scale := 1.0
	for k := 0; k < a.ntry; k++ {
		rk := mat64.NewTriDense(a.npar, matrix.Upper, nil)
		for i := 0; i < a.npar; i++ {
			for j := i; j < a.npar; j++ {
				rk.SetTri(i, j, base.At(i, j)/scale)
			}
		}
		ik := mat64.NewDense(a.npar, a.npar, nil)
		if err := ik.Inverse(rk); err != nil {
			return fmt.Errorf("inverting stage %d factor: %v", k, err)
		}
		r[k] = rk
		inv[k] = ik
		scale *= a.drScale
	}
	a.r = r
	a.inv = inv
	return nil
}

// triFinite reports whether every element of an upper factor is finite.
// Used by tests and the resume path to reject corrupt covariances early.
func triFinite(r *mat64.TriDense) bool {
	n, _ := r.Dims()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := r.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
