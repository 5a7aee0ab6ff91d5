/*

Gomcstat fits a regression model to paired observations by Markov-chain
Monte Carlo, using a delayed-rejection adaptive Metropolis (DRAM) sampler.

The basic usage looks like this:

	gomcstat -start "1 1" data.txt

, this will fit a straight line with two free parameters.

You can change the model and the sampler configuration:

	gomcstat -model monod -start "0.2 0.1" -nsimu 50000 -ntry 3 data.txt

To see all the options run:

	gomcstat -h

*/
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/gonum/matrix/mat64"
	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/nccreang/gomcstat/chain"
	"github.com/nccreang/gomcstat/checkpoint"
	"github.com/nccreang/gomcstat/mcmc"
	"github.com/nccreang/gomcstat/model"
)

// These variables are set during the compilation.
var githash = ""
var buildstamp = ""
var version = fmt.Sprintf("revision: %s, build time: %s", githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("gomcstat")
var formatter = logging.MustStringFormatter(`%{message}`)

// command-line options
var (
	// application
	app = kingpin.New("gomcstat", "DRAM sampler for regression models").Version(version)

	// input data
	dataFileName = app.Arg("data", "whitespace-separated x/y observations").Required().ExistingFile()

	// model
	modelName = app.Flag("model", "regression model (line or monod)").Default("line").Enum("line", "monod")
	start     = app.Flag("start", "initial parameter values").Required().String()
	lower     = app.Flag("lower", "lower parameter limits (-Inf by default)").String()
	upper     = app.Flag("upper", "upper parameter limits (+Inf by default)").String()
	priorMu   = app.Flag("priormu", "Gaussian prior means (flat prior by default)").String()
	priorSig  = app.Flag("priorsigma", "Gaussian prior standard deviations").String()

	// sampler parameters
	nSimu       = app.Flag("nsimu", "number of iterations").Default("10000").Int()
	burnIn      = app.Flag("burnin", "number of iterations to discard").Default("0").Int()
	nTry        = app.Flag("ntry", "total trial stages per iteration (1 disables delayed rejection)").Default("2").Int()
	drScale     = app.Flag("drscale", "proposal shrink factor per extra stage").Default("5").Float64()
	adaptInt    = app.Flag("adaptint", "covariance adaptation interval (0 disables)").Default("100").Int()
	psd         = app.Flag("psd", "initial proposal standard deviation, relative to the start values").Default("0.1").Float64()
	updateSigma = app.Flag("updatesigma", "resample the observation-error variance each iteration").Bool()
	s20         = app.Flag("s20", "prior error-variance mean").Default("1").Float64()
	n0          = app.Flag("n0", "prior accuracy for s20").Default("1").Float64()

	// reporting
	accept = app.Flag("accept", "report acceptance rate every N iterations").Default("200").Int()
	report = app.Flag("report", "report every N iterations").Default("100").Int()

	// technical
	seed = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()

	// input/output
	checkpointFileName = app.Flag("checkpoint", "checkpoint database file").String()
	checkpointSeconds  = app.Flag("cpseconds", "how often checkpoints are saved, seconds").Default("30").Float64()
	outLogF            = app.Flag("log", "write log to a file").String()
	logLevel           = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
)

// regressionFromString returns a regression function by name.
func regressionFromString(name string) (model.RegressionFunc, error) {
	switch name {
	case "line":
		return model.Line, nil
	case "monod":
		return model.Monod, nil
	}
	return nil, fmt.Errorf("unknown regression model: %s", name)
}

// limitsFromString parses optional limit flags, filling def when absent.
func limitsFromString(s string, npar int, def float64) ([]float64, error) {
	if s == "" {
		l := make([]float64, npar)
		for i := range l {
			l[i] = def
		}
		return l, nil
	}
	l, err := model.ReadFloats(s)
	if err != nil {
		return nil, err
	}
	if len(l) != npar {
		return nil, fmt.Errorf("got %d limits for %d parameters", len(l), npar)
	}
	return l, nil
}

func run() error {
	startTime := time.Now()

	dataFile, err := os.Open(*dataFileName)
	if err != nil {
		return err
	}
	defer dataFile.Close()

	data, err := model.ReadDataSet(dataFile)
	if err != nil {
		return err
	}
	log.Infof("Read %d observations", data.Nobs())

	f, err := regressionFromString(*modelName)
	if err != nil {
		return err
	}

	initial, err := model.ReadFloats(*start)
	if err != nil {
		return err
	}
	npar := len(initial)
	if npar == 0 {
		return fmt.Errorf("empty initial parameter vector")
	}

	lo, err := limitsFromString(*lower, npar, math.Inf(-1))
	if err != nil {
		return err
	}
	up, err := limitsFromString(*upper, npar, math.Inf(+1))
	if err != nil {
		return err
	}
	params := mcmc.NewModelParameters(initial, lo, up, nil, nil)
	log.Infof("Model has %d parameters.", npar)

	var prior mcmc.PriorEvaluator = model.FlatPrior{}
	if *priorMu != "" {
		mu, err := model.ReadFloats(*priorMu)
		if err != nil {
			return err
		}
		sig, err := model.ReadFloats(*priorSig)
		if err != nil {
			return err
		}
		if len(mu) != npar || len(sig) != npar {
			return fmt.Errorf("prior length doesn't match %d parameters", npar)
		}
		prior = model.NewGaussianPrior(mu, sig)
	}

	settings := chain.NewSettings()
	settings.NSimu = *nSimu
	settings.BurnIn = *burnIn
	settings.NTry = *nTry
	settings.DRScale = *drScale
	settings.AdaptInt = *adaptInt
	settings.UpdateSigma = *updateSigma
	settings.S20 = []float64{*s20}
	settings.N0 = []float64{*n0}
	settings.Nobs = []float64{float64(data.Nobs())}
	settings.AccPeriod = *accept
	settings.RepPeriod = *report
	settings.Seed = *seed
	if settings.Seed < 0 {
		settings.Seed = time.Now().UnixNano()
		log.Debugf("Random seed from time: %v", settings.Seed)
	}
	settings.Qcov = mat64.NewSymDense(npar, nil)
	for i, v := range initial {
		w := *psd * v
		if w == 0 {
			w = *psd
		}
		settings.Qcov.SetSym(i, i, w*w)
	}

	smp, err := chain.NewSampler(params, data.SumOfSquares(f), prior, settings)
	if err != nil {
		return err
	}

	if *checkpointFileName != "" {
		db, err := bolt.Open(*checkpointFileName, 0644, nil)
		if err != nil {
			return err
		}
		defer db.Close()
		smp.SetCheckpointIO(checkpoint.NewCheckpointIO(db, []byte(*modelName), *checkpointSeconds))
	}

	smp.WatchSignals(os.Interrupt)

	res, err := smp.Run()
	if err != nil {
		return err
	}

	log.Noticef("Acceptance rate: %.2f%%", 100*res.AcceptanceRate())
	for i, n := range res.Stats.Accepted {
		log.Infof("Stage %d acceptances: %d", i+1, n)
	}
	means := res.Means()
	for i, n := range res.Names {
		log.Noticef("%s=%f", n, means[i])
	}

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	return nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)

	if err := run(); err != nil {
		log.Fatal(err)
	}
}
