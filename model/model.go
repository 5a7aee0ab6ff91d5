// Package model provides implementations of the mcmc evaluator interfaces:
// function adapters, prior penalties and simple regression models for the
// command-line sampler.
package model

import (
	"math"
)

// SSFunc adapts a plain function to the mcmc.SSEvaluator interface.
type SSFunc func(theta []float64) []float64

// EvaluateSS calls f.
func (f SSFunc) EvaluateSS(theta []float64) []float64 { return f(theta) }

// PriorFunc adapts a plain function to the mcmc.PriorEvaluator interface.
type PriorFunc func(theta []float64) float64

// EvaluatePrior calls f.
func (f PriorFunc) EvaluatePrior(theta []float64) float64 { return f(theta) }

// LikeFunc adapts a plain function to the mcmc.LikeEvaluator interface.
type LikeFunc func(theta []float64) float64

// EvaluateLikelihood calls f.
func (f LikeFunc) EvaluateLikelihood(theta []float64) float64 { return f(theta) }

// GaussianPrior is the quadratic prior penalty sum(((theta-mu)/sigma)^2).
// A +Inf sigma disables the penalty for that component.
type GaussianPrior struct {
	mu    []float64
	sigma []float64
}

// NewGaussianPrior creates a GaussianPrior.
func NewGaussianPrior(mu, sigma []float64) *GaussianPrior {
	if len(mu) != len(sigma) {
		panic("mu and sigma lengths differ")
	}
	for _, s := range sigma {
		if s <= 0 {
			panic("sigma should be > 0")
		}
	}
	return &GaussianPrior{mu: mu, sigma: sigma}
}

// EvaluatePrior returns the penalty for theta.
func (p *GaussianPrior) EvaluatePrior(theta []float64) float64 {
	var s float64
	for i, v := range theta {
		if math.IsInf(p.sigma[i], +1) {
			continue
		}
		d := (v - p.mu[i]) / p.sigma[i]
		s += d * d
	}
	return s
}

// FlatPrior is the non-informative prior: zero penalty everywhere.
type FlatPrior struct{}

// EvaluatePrior returns 0.
func (FlatPrior) EvaluatePrior([]float64) float64 { return 0 }
