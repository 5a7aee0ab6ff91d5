package chain

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"

	"github.com/gonum/matrix/mat64"

	"github.com/nccreang/gomcstat/checkpoint"
	"github.com/nccreang/gomcstat/mcmc"
)

// Settings control one sampling run.
type Settings struct {
	// NSimu is the total number of chain iterations.
	NSimu int
	// BurnIn is the number of initial iterations excluded from the chain.
	BurnIn int
	// NTry is the total number of trial stages per iteration (1 disables
	// delayed rejection).
	NTry int
	// DRScale shrinks the proposal factor at each extra trial stage.
	DRScale float64
	// AdaptInt is the covariance adaptation interval (0 disables).
	AdaptInt int
	// Qcov is the initial proposal covariance.
	Qcov *mat64.SymDense
	// UpdateSigma enables conjugate resampling of the error variances.
	UpdateSigma bool
	// S20 is the prior error-variance mean, one entry per observation
	// block; it is also the initial sigma2.
	S20 []float64
	// N0 is the prior accuracy (pseudo-observations) for S20.
	N0 []float64
	// Nobs is the number of observations per block.
	Nobs []float64
	// Seed for the chain's private random stream.
	Seed int64
	// AccPeriod is how often the acceptance rate is logged.
	AccPeriod int
	// RepPeriod is how often a trajectory line is printed.
	RepPeriod int
}

// NewSettings returns defaults matching common DRAM practice: two trial
// stages, stage shrink factor 5, adaptation every 100 iterations.
func NewSettings() *Settings {
	return &Settings{
		NSimu:     10000,
		NTry:      2,
		DRScale:   5,
		AdaptInt:  100,
		S20:       []float64{1},
		N0:        []float64{0},
		AccPeriod: 200,
		RepPeriod: 100,
	}
}

// Result holds the sampled chain and its bookkeeping.
type Result struct {
	// Names of the sampled parameters, column order of Chain.
	Names []string
	// Chain rows are accepted states past burn-in.
	Chain [][]float64
	// SSChain carries the misfit per stored state.
	SSChain [][]float64
	// S2Chain carries the error variances per stored state (nil unless
	// UpdateSigma).
	S2Chain [][]float64
	// Stats are the per-stage acceptance counts.
	Stats *mcmc.Stats
	// Iterations actually performed (smaller than NSimu on interrupt).
	Iterations int
	// Last is the final chain state.
	Last *mcmc.ParameterSet
}

// AcceptanceRate is the fraction of iterations that moved the chain.
func (r *Result) AcceptanceRate() float64 {
	if r.Iterations == 0 {
		return 0
	}
	total := 0
	for _, n := range r.Stats.Accepted {
		total += n
	}
	return float64(total) / float64(r.Iterations)
}

// Means returns the posterior mean of every sampled parameter.
func (r *Result) Means() []float64 {
	if len(r.Chain) == 0 {
		return nil
	}
	m := make([]float64, len(r.Chain[0]))
	for _, row := range r.Chain {
		for i, v := range row {
			m[i] += v
		}
	}
	for i := range m {
		m[i] /= float64(len(r.Chain))
	}
	return m
}

// Sampler drives the DRAM loop for a single chain. Independent chains use
// independent Samplers; they share no mutable state.
type Sampler struct {
	settings *Settings
	params   *mcmc.ModelParameters
	sos      mcmc.SSEvaluator
	prior    mcmc.PriorEvaluator

	rng   *rand.Rand
	met   *mcmc.Metropolis
	dr    *mcmc.DelayedRejection
	adapt *adaptation
	ckp   *checkpoint.CheckpointIO
	sig   chan os.Signal

	// Quiet suppresses trajectory printing.
	Quiet bool
}

// NewSampler assembles a DRAM sampler for the given model.
func NewSampler(params *mcmc.ModelParameters, sos mcmc.SSEvaluator, prior mcmc.PriorEvaluator, settings *Settings) (*Sampler, error) {
	if settings.NTry < 1 {
		return nil, fmt.Errorf("ntry should be >= 1, got %d", settings.NTry)
	}
	if settings.DRScale <= 0 {
		return nil, fmt.Errorf("drscale should be > 0, got %v", settings.DRScale)
	}
	if settings.AccPeriod < 1 || settings.RepPeriod < 1 {
		return nil, fmt.Errorf("reporting periods should be >= 1")
	}
	if settings.UpdateSigma &&
		(len(settings.N0) != len(settings.S20) || len(settings.Nobs) != len(settings.S20)) {
		return nil, fmt.Errorf("s20, n0 and nobs lengths differ")
	}
	qcov := settings.Qcov
	if qcov == nil {
		// Default: independent steps of relative size 10%.
		qcov = mat64.NewSymDense(params.Npar(), nil)
		for i, v := range params.InitialTheta() {
			w := 0.1 * v
			if w == 0 {
				w = 0.1
			}
			qcov.SetSym(i, i, w*w)
		}
	}
	if n, _ := qcov.Dims(); n != params.Npar() {
		return nil, fmt.Errorf("qcov is %dx%d for %d parameters", n, n, params.Npar())
	}
	adapt, err := newAdaptation(qcov, settings.NTry, settings.DRScale)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(settings.Seed))
	return &Sampler{
		settings: settings,
		params:   params,
		sos:      sos,
		prior:    prior,
		rng:      rng,
		met:      mcmc.NewMetropolis(rng, mcmc.RatioSumOfSquares),
		dr:       mcmc.NewDelayedRejection(rng, settings.NTry),
		adapt:    adapt,
	}, nil
}

// WatchSignals makes Run stop gracefully when one of sigs arrives.
func (s *Sampler) WatchSignals(sigs ...os.Signal) {
	s.sig = make(chan os.Signal, 1)
	signal.Notify(s.sig, sigs...)
}

// SetCheckpointIO enables periodic checkpointing and resume.
func (s *Sampler) SetCheckpointIO(ckp *checkpoint.CheckpointIO) {
	s.ckp = ckp
}

// Run samples NSimu iterations and returns the chain.
func (s *Sampler) Run() (*Result, error) {
	set := s.settings
	current, start, err := s.startingPoint()
	if err != nil {
		return nil, err
	}

	names := make([]string, s.params.Npar())
	for i := range names {
		names[i] = s.params.Name(i)
	}
	res := &Result{
		Names: names,
		Stats: mcmc.NewStats(set.NTry),
	}

	s.printHeader(names)
	accepted := 0
	lastReported := -1
	i := start
Iter:
	for ; i < set.NSimu; i++ {
		if i > 0 && i%set.AccPeriod == 0 {
			log.Infof("Acceptance rate %.2f%%", 100*float64(accepted)/float64(set.AccPeriod))
			accepted = 0
		}
		if i%set.RepPeriod == 0 {
			s.printLine(i, current)
			lastReported = i
		}

		factors := s.adapt.Factors()
		accept, cand, _, _, err := s.met.Step(current, s.params, factors[0], s.prior, nil, s.sos)
		if err != nil {
			return nil, err
		}
		switch {
		case accept:
			current = cand
			res.Stats.Accepted[0]++
			accepted++
		case set.NTry > 1:
			accept, out, _, err := s.dr.Run(current, cand, factors, s.adapt.Inverses(),
				s.params, s.sos, s.prior, res.Stats)
			if err != nil {
				return nil, err
			}
			current = out
			if accept {
				accepted++
			}
		}

		if set.UpdateSigma {
			next := *current
			next.Sigma2 = resampleSigma2(s.rng, current.SS, set.N0, set.S20, set.Nobs)
			current = &next
		}

		if set.AdaptInt > 0 {
			s.adapt.Push(current.Theta)
			if (i+1)%set.AdaptInt == 0 {
				s.adapt.Update()
			}
		}

		if i >= set.BurnIn {
			s.record(res, current)
		}

		if s.ckp != nil && s.ckp.Old() {
			s.saveCheckpoint(i, current, false)
		}

		select {
		case sig := <-s.sig:
			log.Warningf("Received signal %v, exiting.", sig)
			i++
			break Iter
		default:
		}
	}
	if i-1 != lastReported {
		s.printLine(i-1, current)
	}
	if s.ckp != nil {
		s.saveCheckpoint(i, current, true)
	}

	res.Iterations = i - start
	res.Last = current
	log.Noticef("Finished sampling: %d iterations, acceptance rate %.2f%%",
		res.Iterations, 100*res.AcceptanceRate())
	return res, nil
}

// startingPoint evaluates the model at the initial (or checkpointed) point
// and builds the first chain state.
func (s *Sampler) startingPoint() (*mcmc.ParameterSet, int, error) {
	set := s.settings
	theta := s.params.InitialTheta()
	sigma2 := append([]float64(nil), set.S20...)
	start := 0

	if s.ckp != nil {
		data, err := s.ckp.LoadState()
		if err != nil {
			return nil, 0, err
		}
		if data != nil && !data.Final && len(data.Theta) == len(theta) {
			log.Noticef("Resuming from checkpoint at iteration %d", data.Iter)
			theta = data.Theta
			if len(data.Sigma2) == len(sigma2) {
				sigma2 = data.Sigma2
			}
			if err := s.adapt.SetQcov(data.Qcov); err != nil {
				log.Warningf("Checkpointed covariance unusable, keeping the initial one: %v", err)
			}
			start = data.Iter
		}
	}

	if s.params.OutsideBounds(theta) {
		return nil, 0, fmt.Errorf("initial parameters are not in the range")
	}
	ss, err := mcmc.EvaluateInitial(s.sos, s.params, theta)
	if err != nil {
		return nil, 0, err
	}
	if len(ss) != len(sigma2) {
		return nil, 0, fmt.Errorf("%d sum-of-squares components for %d error variances", len(ss), len(sigma2))
	}
	return &mcmc.ParameterSet{
		Theta:  theta,
		SS:     ss,
		Prior:  s.prior.EvaluatePrior(theta),
		Sigma2: sigma2,
	}, start, nil
}

func (s *Sampler) record(res *Result, cur *mcmc.ParameterSet) {
	res.Chain = append(res.Chain, append([]float64(nil), cur.Theta...))
	res.SSChain = append(res.SSChain, append([]float64(nil), cur.SS...))
	if s.settings.UpdateSigma {
		res.S2Chain = append(res.S2Chain, append([]float64(nil), cur.Sigma2...))
	}
}

func (s *Sampler) saveCheckpoint(iter int, cur *mcmc.ParameterSet, final bool) {
	err := s.ckp.SaveState(&checkpoint.CheckpointData{
		Iter:   iter,
		Theta:  cur.Theta,
		Sigma2: cur.Sigma2,
		Qcov:   s.adapt.Qcov(),
		Final:  final,
	})
	if err != nil {
		log.Error("Error saving checkpoint: ", err)
	}
}

func (s *Sampler) printHeader(names []string) {
	if s.Quiet {
		return
	}
	fmt.Printf("iteration\tss\t")
	for i, n := range names {
		if i != 0 {
			fmt.Printf("\t")
		}
		fmt.Printf("%s", n)
	}
	fmt.Printf("\n")
}

func (s *Sampler) printLine(i int, cur *mcmc.ParameterSet) {
	if s.Quiet {
		return
	}
	var ss float64
	for _, v := range cur.SS {
		ss += v
	}
	fmt.Printf("%d\t%f\t", i, ss)
	for j, v := range cur.Theta {
		if j != 0 {
			fmt.Printf("\t")
		}
		fmt.Printf("%s", strconv.FormatFloat(v, 'f', 6, 64))
	}
	fmt.Printf("\n")
}
