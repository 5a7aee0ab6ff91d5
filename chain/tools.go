// Package chain runs the DRAM sampling loop around the mcmc transition
// kernels: per-iteration Metropolis plus delayed rejection, adaptive
// proposal covariance, observation-error variance resampling, chain storage
// with burn-in and bbolt checkpointing.
package chain

import (
	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("chain")
