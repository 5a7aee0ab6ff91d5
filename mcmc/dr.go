package mcmc

import (
	"fmt"
	"math"

	"github.com/gonum/blas"
	"github.com/gonum/blas/blas64"
	"github.com/gonum/matrix/mat64"
)

// Stats accumulates per-stage acceptance counts and recursion bookkeeping
// for one chain. It is owned by the surrounding sampling loop and passed
// into every Run call; the kernels keep no global counters.
type Stats struct {
	// Accepted counts acceptances per trial stage: index 0 is the plain
	// Metropolis stage (incremented by the caller), index k>=1 the k-th
	// delayed-rejection retry.
	Accepted []int
	// DRSteps counts evaluations of the recursive acceptance probability.
	DRSteps int
}

// NewStats creates a Stats for a sampler with ntry trial stages.
func NewStats(ntry int) *Stats {
	return &Stats{Accepted: make([]int, ntry)}
}

// DelayedRejection retries rejected Metropolis candidates with successively
// scaled-down proposals, using the generalized acceptance probability that
// preserves detailed balance across the whole retry chain.
type DelayedRejection struct {
	rng  Source
	prop *Proposal
	ntry int
}

// NewDelayedRejection creates a kernel performing up to ntry trials in
// total (the first being the already-performed Metropolis stage).
func NewDelayedRejection(rng Source, ntry int) *DelayedRejection {
	if ntry < 1 {
		panic("ntry should be >= 1")
	}
	return &DelayedRejection{
		rng:  rng,
		prop: NewProposal(rng),
		ntry: ntry,
	}
}

// Run resolves one delayed-rejection attempt after the Metropolis stage
// rejected its candidate. factors[k] and inv[k] are the proposal factor and
// its inverse for trial stage k+1; stage proposals are centered on the
// current state old, which is exactly the kernel the recursive acceptance
// formula is derived for.
//
// On acceptance out is the accepted candidate; when every trial is
// exhausted out is old and the chain does not move, which is a normal
// outcome, not an error. outside reports whether the last trial fell
// outside the box constraints.
func (dr *DelayedRejection) Run(old, rejected *ParameterSet, factors []*mat64.TriDense, inv []*mat64.Dense,
	mp *ModelParameters, sos SSEvaluator, prior PriorEvaluator, stats *Stats) (accept bool, out *ParameterSet, outside bool, err error) {
	npar := mp.Npar()
	if len(factors) < dr.ntry || len(inv) < dr.ntry {
		return false, nil, false, fmt.Errorf("%w: %d stage factors and %d inverses for %d tries",
			ErrUnsupportedConfiguration, len(factors), len(inv), dr.ntry)
	}
	for k := 0; k < dr.ntry; k++ {
		if err = checkFactor(factors[k], npar); err != nil {
			return false, nil, false, err
		}
		if err = checkInverse(inv[k], npar); err != nil {
			return false, nil, false, err
		}
	}

	path := []*ParameterSet{old, rejected}
	out = old
	for itry := 2; !accept && itry <= dr.ntry; itry++ {
		theta, _ := dr.prop.Sample(old.Theta, factors[itry-1])

		if mp.OutsideBounds(theta) {
			// The trial counts towards the budget but can never be
			// accepted; the model is not evaluated for it.
			path = append(path, outsideSet(theta, len(old.SS), rejected.Sigma2))
			outside = true
			out = old
			continue
		}
		outside = false

		newPrior := prior.EvaluatePrior(theta)
		if math.IsNaN(newPrior) {
			return false, nil, false, fmt.Errorf("%w: prior is NaN", ErrModelEvaluation)
		}
		ss, err := evaluateSS(sos, mp, theta)
		if err != nil {
			return false, nil, false, err
		}
		next := &ParameterSet{Theta: theta, SS: ss, Prior: newPrior, Sigma2: rejected.Sigma2}
		path = append(path, next)

		alpha, err := alphaFun(path, inv, stats)
		if err != nil {
			return false, nil, false, err
		}
		next.Alpha = alpha

		if alpha >= 1 || dr.rng.Float64() < alpha {
			accept = true
			out = next
			if stats != nil {
				stats.Accepted[itry-1]++
			}
		} else {
			out = old
		}
	}
	return accept, out, outside, nil
}

// alphaFun computes the generalized delayed-rejection acceptance
// probability for a trial path y_0 (current state), y_1, ..., y_n. It is a
// pure recursive function over path prefixes and reversed suffixes: the
// forward product a1 accumulates the probabilities of not having accepted
// each earlier sub-path, a2 the same for the mirrored path. A zero a2 means
// the reverse move would have been accepted with certainty, making the
// forward move inadmissible; a zero a1 is structurally impossible and is
// trapped as a degeneracy.
func alphaFun(path []*ParameterSet, inv []*mat64.Dense, stats *Stats) (float64, error) {
	if stats != nil {
		stats.DRSteps++
	}
	stage := len(path) - 1
	a1, a2 := 1.0, 1.0
	for k := 0; k < stage-1; k++ {
		tmp1, err := alphaFun(path[:k+2], inv, stats)
		if err != nil {
			return 0, err
		}
		a1 *= 1 - tmp1
		tmp2, err := alphaFun(reverseTail(path, k+2), inv, stats)
		if err != nil {
			return 0, err
		}
		a2 *= 1 - tmp2
		if a2 == 0 {
			return 0, nil
		}
	}

	y := logPosteriorRatio(path[0], path[stage])
	for k := 0; k < stage; k++ {
		y += qFun(k, path, inv)
	}

	if a1 == 0 {
		log.Errorf("zero forward normalization at stage %d", stage)
		return 0, fmt.Errorf("%w: a rejected sub-stage had acceptance probability one", ErrNumericDegeneracy)
	}
	return math.Min(1, math.Exp(y)*a2/a1), nil
}

// reverseTail returns the last n elements of path in reverse order:
// y_stage, y_stage-1, ..., y_stage-n+1.
func reverseTail(path []*ParameterSet, n int) []*ParameterSet {
	stage := len(path) - 1
	rev := make([]*ParameterSet, n)
	for i := 0; i < n; i++ {
		rev[i] = path[stage-i]
	}
	return rev
}

// qFun is the log proposal-density ratio contributed by stage iq of the
// trial path: log q_i(y_n,...,y_{n-j}) / q_i(y_0,y_1,...,y_j). At the
// path's own midpoint stage the Gaussian kernel cancels exactly.
func qFun(iq int, path []*ParameterSet, inv []*mat64.Dense) float64 {
	stage := len(path) - 2
	if stage == iq {
		return 0
	}
	y1 := path[0].Theta
	y2 := path[iq+1].Theta
	y3 := path[stage+1].Theta
	y4 := path[stage-iq].Theta
	return -0.5 * (sqNorm(y4, y3, inv[iq]) - sqNorm(y2, y1, inv[iq]))
}

// sqNorm computes ||(a-b)*iR||^2 for row vectors.
func sqNorm(a, b []float64, iR *mat64.Dense) float64 {
	d := make([]float64, len(a))
	for i := range d {
		d[i] = a[i] - b[i]
	}
	w := make([]float64, len(a))
	blas64.Gemv(blas.Trans, 1, iR.RawMatrix(),
		blas64.Vector{Inc: 1, Data: d}, 0, blas64.Vector{Inc: 1, Data: w})
	var s float64
	for _, v := range w {
		s += v * v
	}
	return s
}

// logPosteriorRatio is the Gaussian-likelihood log ratio between the first
// and last states of a trial path, each misfit scaled by its own sigma2.
func logPosteriorRatio(x1, x2 *ParameterSet) float64 {
	var s float64
	for i := range x2.SS {
		if math.IsInf(x2.SS[i], +1) {
			// An out-of-bounds end state can never be accepted.
			return math.Inf(-1)
		}
		s += x2.SS[i]/x2.Sigma2[i] - x1.SS[i]/x1.Sigma2[i]
	}
	return -0.5 * (s + x2.Prior - x1.Prior)
}
