package mcmc

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/gonum/matrix"
	"github.com/gonum/matrix/mat64"
)

func unitFactors(n int) ([]*mat64.TriDense, []*mat64.Dense) {
	r := make([]*mat64.TriDense, n)
	inv := make([]*mat64.Dense, n)
	for i := 0; i < n; i++ {
		r[i] = mat64.NewTriDense(1, matrix.Upper, []float64{1})
		inv[i] = mat64.NewDense(1, 1, []float64{1})
	}
	return r, inv
}

// TestDelayedRejectionTwoStage checks the one-retry case against the
// closed-form DRAM ratio, hand-computed for
// y0=(theta 0, ss 10), y1=(0.5, 12), y2=(1, 11), sigma2=1, flat priors:
//
//	alpha2 = min(1, exp(-0.5*(11-10)) * (1-exp(-0.5)) / (1-exp(-1)))
//	       = 0.37754066879814546
//
// (the stage-0 proposal ratio cancels because |y1-y2| = |y1-y0| = 0.5).
func TestDelayedRejectionTwoStage(tst *testing.T) {
	src := &stubSource{t: tst, normals: []float64{1}, uniforms: []float64{0.1}}
	m := &mockModel{ss: func(theta []float64) []float64 {
		if theta[0] != 1 {
			tst.Fatalf("sum-of-squares evaluated at %v", theta)
		}
		return []float64{11}
	}}
	old := &ParameterSet{Theta: []float64{0}, SS: []float64{10}, Sigma2: []float64{1}}
	rejected := &ParameterSet{Theta: []float64{0.5}, SS: []float64{12}, Sigma2: []float64{1},
		Alpha: math.Exp(-1)}

	dr := NewDelayedRejection(src, 2)
	factors, inv := unitFactors(2)
	stats := NewStats(2)
	accept, out, outside, err := dr.Run(old, rejected, factors, inv,
		boundedParams(-5, 5), m, m, stats)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if !accept || outside {
		tst.Errorf("Expected in-bounds acceptance, accept=%v outside=%v", accept, outside)
	}
	const want = 0.37754066879814546
	if !appreq(out.Alpha, want) {
		tst.Errorf("Expected alpha=%v, got %v", want, out.Alpha)
	}
	if out.Theta[0] != 1 || out.SS[0] != 11 {
		tst.Errorf("Incorrect accepted set: theta=%v ss=%v", out.Theta, out.SS)
	}
	if stats.Accepted[1] != 1 {
		tst.Errorf("Expected one second-stage acceptance, got %v", stats.Accepted)
	}
	// One top-level recursion plus the two depth-1 sub-paths.
	if stats.DRSteps != 3 {
		tst.Errorf("Expected 3 recursion steps, got %d", stats.DRSteps)
	}
	if m.ssCalls != 1 {
		tst.Errorf("Expected one misfit evaluation, got %d", m.ssCalls)
	}
}

// A single-try budget means delayed rejection performs zero retries: the
// outcome is exactly the already-decided Metropolis rejection.
func TestDelayedRejectionSingleTry(tst *testing.T) {
	src := &stubSource{t: tst} // any draw fails the test
	m := &mockModel{ss: func([]float64) []float64 { tst.Fatal("model evaluated"); return nil }}
	old := currentSet()
	rejected := &ParameterSet{Theta: []float64{0.5}, SS: []float64{12}, Sigma2: []float64{1}}

	dr := NewDelayedRejection(src, 1)
	factors, inv := unitFactors(1)
	accept, out, outside, err := dr.Run(old, rejected, factors, inv,
		boundedParams(-5, 5), m, m, NewStats(1))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if accept || outside {
		tst.Errorf("Expected plain rejection, accept=%v outside=%v", accept, outside)
	}
	if out != old {
		tst.Error("Expected the chain to stay at the current state")
	}
}

// An out-of-bounds stage consumes a trial without evaluating the model and
// without making acceptance impossible for later stages.
func TestDelayedRejectionOutsideBounds(tst *testing.T) {
	src := &stubSource{t: tst, normals: []float64{-6, 0.2}, uniforms: []float64{0.1}}
	m := &mockModel{ss: func(theta []float64) []float64 {
		if theta[0] != 0.2 {
			tst.Fatalf("sum-of-squares evaluated at %v", theta)
		}
		return []float64{9.5}
	}}
	old := &ParameterSet{Theta: []float64{0}, SS: []float64{10}, Sigma2: []float64{1}}
	rejected := &ParameterSet{Theta: []float64{0.5}, SS: []float64{12}, Sigma2: []float64{1}}

	dr := NewDelayedRejection(src, 3)
	factors, inv := unitFactors(3)
	stats := NewStats(3)
	accept, out, outside, err := dr.Run(old, rejected, factors, inv,
		boundedParams(-5, 5), m, m, stats)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if !accept || outside {
		tst.Errorf("Expected third-stage acceptance, accept=%v outside=%v", accept, outside)
	}
	if out.Theta[0] != 0.2 {
		tst.Errorf("Incorrect accepted state: %v", out.Theta)
	}
	if out.Alpha <= 0 || out.Alpha > 1 {
		tst.Errorf("alpha=%v out of (0,1]", out.Alpha)
	}
	if m.ssCalls != 1 {
		tst.Errorf("Expected one misfit evaluation, got %d", m.ssCalls)
	}
	if stats.Accepted[2] != 1 {
		tst.Errorf("Expected one third-stage acceptance, got %v", stats.Accepted)
	}
}

// A rejected first stage whose recomputed acceptance probability is one
// breaks the recursion's normalization; this must surface as a degeneracy
// error, not a division by zero.
func TestDelayedRejectionDegeneracy(tst *testing.T) {
	src := &stubSource{t: tst, normals: []float64{0.3}}
	m := &mockModel{ss: func([]float64) []float64 { return []float64{3} }}
	old := &ParameterSet{Theta: []float64{0}, SS: []float64{10}, Sigma2: []float64{1}}
	// An "improving" candidate can never be rejected by the Metropolis
	// stage; feeding one in simulates broken caller bookkeeping.
	rejected := &ParameterSet{Theta: []float64{0.5}, SS: []float64{8}, Sigma2: []float64{1}}

	dr := NewDelayedRejection(src, 2)
	factors, inv := unitFactors(2)
	_, _, _, err := dr.Run(old, rejected, factors, inv,
		boundedParams(-5, 5), m, m, NewStats(2))
	if !errors.Is(err, ErrNumericDegeneracy) {
		tst.Errorf("Expected numeric degeneracy, got %v", err)
	}
}

func TestDelayedRejectionBadFactors(tst *testing.T) {
	src := &stubSource{t: tst} // no draw may be consumed
	m := &mockModel{ss: func([]float64) []float64 { return []float64{1} }}
	old := currentSet()
	rejected := &ParameterSet{Theta: []float64{0.5}, SS: []float64{12}, Sigma2: []float64{1}}

	dr := NewDelayedRejection(src, 3)
	factors, inv := unitFactors(2) // one stage short
	_, _, _, err := dr.Run(old, rejected, factors, inv,
		boundedParams(-5, 5), m, m, NewStats(3))
	if !errors.Is(err, ErrUnsupportedConfiguration) {
		tst.Errorf("Expected configuration error, got %v", err)
	}
}

// The Gaussian proposal ratio vanishes exactly at the path's own midpoint
// stage.
func TestQFunMidpointSymmetry(tst *testing.T) {
	_, inv := unitFactors(4)
	mk := func(theta float64) *ParameterSet {
		return &ParameterSet{Theta: []float64{theta}, SS: []float64{1}, Sigma2: []float64{1}}
	}
	path3 := []*ParameterSet{mk(0), mk(0.7), mk(-1.3)}
	if q := qFun(1, path3, inv); q != 0 {
		tst.Errorf("Expected q=0 at midpoint of a 3-path, got %v", q)
	}
	path4 := []*ParameterSet{mk(0), mk(0.7), mk(-1.3), mk(2.1)}
	if q := qFun(2, path4, inv); q != 0 {
		tst.Errorf("Expected q=0 at midpoint of a 4-path, got %v", q)
	}
	if q := qFun(0, path4, inv); q == 0 {
		tst.Error("Expected non-zero q away from the midpoint")
	}
}

// Every acceptance probability produced over a long simulated run stays in
// [0,1] and the recursion never errors on structurally consistent paths.
func TestDelayedRejectionAlphaRange(tst *testing.T) {
	rng := rand.New(rand.NewSource(11))
	m := &mockModel{ss: func(theta []float64) []float64 {
		return []float64{1 + 2*(theta[0]-0.3)*(theta[0]-0.3)}
	}}
	mp := boundedParams(-3, 3)
	met := NewMetropolis(rng, RatioSumOfSquares)
	dr := NewDelayedRejection(rng, 4)
	factors, inv := unitFactors(4)
	for k := 1; k < 4; k++ {
		scale := math.Pow(5, float64(k))
		factors[k] = mat64.NewTriDense(1, matrix.Upper, []float64{1 / scale})
		inv[k] = mat64.NewDense(1, 1, []float64{scale})
	}
	stats := NewStats(4)

	cur := &ParameterSet{Theta: []float64{0}, SS: m.ss([]float64{0}), Sigma2: []float64{1}}
	for i := 0; i < 300; i++ {
		accept, cand, _, _, err := met.Step(cur, mp, factors[0], m, nil, m)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		if cand.Alpha < 0 || cand.Alpha > 1 || math.IsNaN(cand.Alpha) {
			tst.Fatalf("metropolis alpha=%v out of [0,1]", cand.Alpha)
		}
		if accept {
			cur = cand
			stats.Accepted[0]++
			continue
		}
		accept, out, _, err := dr.Run(cur, cand, factors, inv, mp, m, m, stats)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		if out.Alpha < 0 || out.Alpha > 1 || math.IsNaN(out.Alpha) {
			tst.Fatalf("dr alpha=%v out of [0,1]", out.Alpha)
		}
		cur = out
	}
	total := 0
	for _, n := range stats.Accepted {
		total += n
	}
	if total == 0 {
		tst.Error("Chain never moved over 300 iterations")
	}
}
