package mcmc

import (
	"fmt"
	"math"

	"github.com/gonum/matrix/mat64"
)

// Ratio selects the acceptance-ratio strategy of the Metropolis step. The
// Gaussian sum-of-squares ratio and the general likelihood ratio are
// mutually exclusive; exactly one is evaluated per candidate.
type Ratio int

const (
	// RatioSumOfSquares uses the Gaussian-likelihood ratio built from the
	// sum-of-squares misfit and the error variance sigma2.
	RatioSumOfSquares Ratio = iota
	// RatioLikelihood uses a user-supplied log-likelihood instead of the
	// Gaussian misfit term.
	RatioLikelihood
)

// Metropolis performs single-stage Metropolis transitions.
type Metropolis struct {
	rng   Source
	prop  *Proposal
	ratio Ratio
}

// NewMetropolis creates a Metropolis kernel drawing from rng.
func NewMetropolis(rng Source, ratio Ratio) *Metropolis {
	return &Metropolis{
		rng:   rng,
		prop:  NewProposal(rng),
		ratio: ratio,
	}
}

// Step performs one Metropolis transition from old using the proposal
// factor r.
//
// The returned set is always the evaluated candidate, with its acceptance
// probability recorded; on rejection the caller keeps the old set as the
// chain state and may hand the candidate to DelayedRejection. outside
// reports a candidate beyond the box constraints: such a candidate carries
// ss=+Inf, prior=0 and alpha=0, and no model evaluation is performed for
// it. u is the raw standard-normal draw behind the candidate.
func (m *Metropolis) Step(old *ParameterSet, mp *ModelParameters, r *mat64.TriDense,
	prior PriorEvaluator, like LikeEvaluator, sos SSEvaluator) (accept bool, next *ParameterSet, outside bool, u []float64, err error) {
	npar := mp.Npar()
	if err = checkFactor(r, npar); err != nil {
		return false, nil, false, nil, err
	}
	if prior == nil {
		return false, nil, false, nil, fmt.Errorf("%w: nil prior evaluator", ErrUnsupportedConfiguration)
	}
	switch m.ratio {
	case RatioSumOfSquares:
		if sos == nil {
			return false, nil, false, nil, fmt.Errorf("%w: sum-of-squares strategy without an evaluator", ErrUnsupportedConfiguration)
		}
	case RatioLikelihood:
		if like == nil {
			return false, nil, false, nil, fmt.Errorf("%w: likelihood strategy without an evaluator", ErrUnsupportedConfiguration)
		}
	default:
		return false, nil, false, nil, fmt.Errorf("%w: unknown acceptance-ratio strategy %d", ErrUnsupportedConfiguration, m.ratio)
	}

	theta, u := m.prop.Sample(old.Theta, r)

	if mp.OutsideBounds(theta) {
		return false, outsideSet(theta, len(old.SS), old.Sigma2), true, u, nil
	}

	newPrior := prior.EvaluatePrior(theta)
	if math.IsNaN(newPrior) {
		return false, nil, false, u, fmt.Errorf("%w: prior is NaN", ErrModelEvaluation)
	}

	next = &ParameterSet{Theta: theta, Prior: newPrior, Sigma2: old.Sigma2}
	var y float64
	switch m.ratio {
	case RatioSumOfSquares:
		// The misfit is evaluated exactly once, against the full model
		// vector expanded through parind.
		ss, err := evaluateSS(sos, mp, theta)
		if err != nil {
			return false, nil, false, u, err
		}
		next.SS = ss
		var d float64
		for i := range ss {
			d += (ss[i] - old.SS[i]) / old.Sigma2[i]
		}
		y = -0.5 * (d + newPrior - old.Prior)
	case RatioLikelihood:
		newLike := like.EvaluateLikelihood(theta)
		if math.IsNaN(newLike) {
			return false, nil, false, u, fmt.Errorf("%w: likelihood is NaN", ErrModelEvaluation)
		}
		next.Like = newLike
		next.SS = old.SS
		y = newLike - old.Like - 0.5*(newPrior-old.Prior)
	}

	next.Alpha = math.Min(1, math.Exp(y))
	accept = next.Alpha >= 1 || m.rng.Float64() < next.Alpha
	return accept, next, false, u, nil
}

// EvaluateInitial evaluates and validates the misfit at a chain's starting
// point, before any transition has happened.
func EvaluateInitial(sos SSEvaluator, mp *ModelParameters, theta []float64) ([]float64, error) {
	return evaluateSS(sos, mp, theta)
}

// evaluateSS runs the misfit collaborator and validates its result. NaN or
// negative values are user-code bugs; +Inf is a legal sentinel.
func evaluateSS(sos SSEvaluator, mp *ModelParameters, theta []float64) ([]float64, error) {
	ss := sos.EvaluateSS(mp.Expand(theta))
	if len(ss) == 0 {
		return nil, fmt.Errorf("%w: empty sum-of-squares", ErrModelEvaluation)
	}
	for i, v := range ss {
		if math.IsNaN(v) || v < 0 {
			return nil, fmt.Errorf("%w: sum-of-squares component %d is %v", ErrModelEvaluation, i, v)
		}
	}
	return ss, nil
}
