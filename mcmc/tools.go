// Package mcmc implements the transition kernels of a delayed-rejection
// adaptive Metropolis (DRAM) sampler: a Gaussian random-walk proposal, the
// single-stage Metropolis step and the multi-stage delayed-rejection step
// with its recursive acceptance probability.
//
// The package owns no chain storage and no covariance adaptation; both
// belong to a surrounding sampling loop (see the chain package). Model
// evaluation happens through the SSEvaluator, PriorEvaluator and
// LikeEvaluator interfaces.
package mcmc

import (
	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("mcmc")

// Source is the stream of random draws consumed by the transition kernels.
// *rand.Rand satisfies it. The kernels consume draws in a fixed order (one
// normal vector per candidate, then at most one uniform per accept test), so
// runs are reproducible for a fixed seed. Independent chains must use
// independent sources.
type Source interface {
	NormFloat64() float64
	Float64() float64
}

// SSEvaluator computes the sum-of-squares misfit for a model parameter
// vector. The returned slice has one entry per observation block. It is
// never called for out-of-bounds parameters.
type SSEvaluator interface {
	EvaluateSS(theta []float64) []float64
}

// PriorEvaluator computes the prior penalty (a quadratic, sum-of-squares
// style value entering the acceptance ratio with a -0.5 factor) for a
// sampled parameter vector.
type PriorEvaluator interface {
	EvaluatePrior(theta []float64) float64
}

// LikeEvaluator computes the log-likelihood for a sampled parameter vector.
// Only used by the RatioLikelihood acceptance strategy.
type LikeEvaluator interface {
	EvaluateLikelihood(theta []float64) float64
}
