package mcmc

import (
	"math"
	"strconv"
)

// ParameterSet is one sampled point of the chain together with the values
// the acceptance ratio needs. A transition always produces a new
// ParameterSet; sets are never mutated after construction.
type ParameterSet struct {
	// Theta is the sampled parameter vector (length npar).
	Theta []float64
	// SS is the sum-of-squares misfit, one entry per observation block;
	// +Inf marks an out-of-bounds point that can never be accepted.
	SS []float64
	// Prior is the prior penalty for Theta.
	Prior float64
	// Like is the log-likelihood for Theta; only set under the
	// RatioLikelihood strategy.
	Like float64
	// Sigma2 is the observation-error variance estimate, one entry per
	// observation block. Carried forward unchanged within a step.
	Sigma2 []float64
	// Alpha is the acceptance probability computed for this set relative
	// to its predecessor in a trial sequence.
	Alpha float64
}

// outsideSet builds the sentinel set for an out-of-bounds candidate:
// infinite misfit, zero prior and zero acceptance probability.
func outsideSet(theta []float64, nss int, sigma2 []float64) *ParameterSet {
	ss := make([]float64, nss)
	for i := range ss {
		ss[i] = math.Inf(+1)
	}
	return &ParameterSet{Theta: theta, SS: ss, Sigma2: sigma2}
}

// ModelParameters describes which components of the full model parameter
// vector are sampled and their box constraints. Read-only during a step.
type ModelParameters struct {
	names   []string
	initial []float64
	lower   []float64
	upper   []float64
	parind  []int
}

// NewModelParameters creates a ModelParameters from the full initial vector,
// full-length lower and upper limits, and the indices of the sampled
// components. A nil parind samples every component; nil names are generated.
// Inconsistent lengths are programmer errors and panic.
func NewModelParameters(initial, lower, upper []float64, parind []int, names []string) *ModelParameters {
	if len(lower) != len(initial) || len(upper) != len(initial) {
		panic("limits length doesn't match the initial vector")
	}
	if parind == nil {
		parind = make([]int, len(initial))
		for i := range parind {
			parind[i] = i
		}
	}
	for _, j := range parind {
		if j < 0 || j >= len(initial) {
			panic("parameter index out of range")
		}
	}
	if names == nil {
		names = make([]string, len(parind))
		for i, j := range parind {
			names[i] = "p" + strconv.Itoa(j)
		}
	}
	if len(names) != len(parind) {
		panic("names length doesn't match the number of sampled parameters")
	}
	for _, j := range parind {
		if lower[j] > upper[j] {
			panic("lower limit above upper limit")
		}
	}
	return &ModelParameters{
		names:   names,
		initial: initial,
		lower:   lower,
		upper:   upper,
		parind:  parind,
	}
}

// Npar returns the number of sampled parameters.
func (mp *ModelParameters) Npar() int {
	return len(mp.parind)
}

// Name returns the name of the i-th sampled parameter.
func (mp *ModelParameters) Name(i int) string {
	return mp.names[i]
}

// InitialTheta returns the sampled components of the initial vector.
func (mp *ModelParameters) InitialTheta() []float64 {
	theta := make([]float64, len(mp.parind))
	for i, j := range mp.parind {
		theta[i] = mp.initial[j]
	}
	return theta
}

// OutsideBounds reports whether any component of theta violates its limits.
// Limits are indexed through parind. Pure predicate, no side effects.
func (mp *ModelParameters) OutsideBounds(theta []float64) bool {
	for i, j := range mp.parind {
		if theta[i] < mp.lower[j] || theta[i] > mp.upper[j] {
			return true
		}
	}
	return false
}

// Expand maps a sampled vector back into a copy of the full model parameter
// vector; non-sampled components keep their initial values.
func (mp *ModelParameters) Expand(theta []float64) []float64 {
	full := make([]float64, len(mp.initial))
	copy(full, mp.initial)
	for i, j := range mp.parind {
		full[j] = theta[i]
	}
	return full
}
