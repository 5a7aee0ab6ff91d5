package chain

import (
	"math"

	"github.com/gonum/mathext"

	"github.com/nccreang/gomcstat/mcmc"
)

// chi2Quantile returns the quantile of the chi-square distribution with dof
// degrees of freedom, via the inverse regularized incomplete gamma.
func chi2Quantile(p, dof float64) float64 {
	return 2 * mathext.GammaIncInv(dof/2, p)
}

// resampleSigma2 redraws every observation-error variance component from
// its conjugate inverse-gamma posterior,
//
//	sigma2_i ~ (n0_i*s20_i + ss_i) / chi2(n0_i + nobs_i),
//
// using the quantile transform on a single uniform draw per component.
func resampleSigma2(rng mcmc.Source, ss, n0, s20, nobs []float64) []float64 {
	out := make([]float64, len(ss))
	for i := range ss {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		x := chi2Quantile(u, n0[i]+nobs[i])
		out[i] = (n0[i]*s20[i] + ss[i]) / x
		if math.IsNaN(out[i]) || out[i] <= 0 {
			// A degenerate draw would poison every later acceptance
			// ratio; keep a tiny positive variance instead.
			out[i] = math.SmallestNonzeroFloat64
		}
	}
	return out
}
